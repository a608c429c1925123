package bootstrap

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.ServerAddr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.ServerAddr)
	}
	if cfg.UseTURN {
		t.Error("TURN should be off by default")
	}
	if cfg.SampleInterval != 70 {
		t.Errorf("expected sample interval 70, got %d", cfg.SampleInterval)
	}
	if cfg.SeeTimeout != 5*time.Second || cfg.LearnTimeout != 20*time.Second {
		t.Errorf("unexpected timeouts %v %v", cfg.SeeTimeout, cfg.LearnTimeout)
	}
	if len(cfg.RTCICEServers) != 1 || cfg.RTCICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected ICE servers %+v", cfg.RTCICEServers)
	}
	if len(cfg.RTCTURNServers) != 0 {
		t.Errorf("expected no TURN servers, got %+v", cfg.RTCTURNServers)
	}
	if cfg.ScoreThreshold != 0 {
		t.Errorf("expected score threshold 0 so every detection is kept, got %v", cfg.ScoreThreshold)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("USE_TURN_SERVERS", "true")
	t.Setenv("RTC_TURN_SERVERS", "turn:a.example.com:3478, turn:b.example.com:3478")
	t.Setenv("TURN_USERNAME", "user")
	t.Setenv("TURN_CREDENTIAL", "secret")
	t.Setenv("SIDEWALK_COMMAND", "python3")
	t.Setenv("SIDEWALK_ARGS", "detect.py --stdin")
	t.Setenv("SEE_TIMEOUT", "3s")
	t.Setenv("SAMPLE_INTERVAL", "not-a-number")
	t.Setenv("SCORE_THRESHOLD", "0.25")

	cfg := LoadConfig()

	if cfg.ServerAddr != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.ServerAddr)
	}
	if !cfg.UseTURN {
		t.Error("expected TURN enabled")
	}
	if len(cfg.RTCTURNServers) != 2 {
		t.Fatalf("expected 2 TURN servers, got %d", len(cfg.RTCTURNServers))
	}
	if cfg.RTCTURNServers[1].URLs[0] != "turn:b.example.com:3478" || cfg.RTCTURNServers[1].Username != "user" {
		t.Errorf("unexpected TURN server %+v", cfg.RTCTURNServers[1])
	}
	if len(cfg.SidewalkArgs) != 2 || cfg.SidewalkArgs[1] != "--stdin" {
		t.Errorf("unexpected sidewalk args %v", cfg.SidewalkArgs)
	}
	if cfg.SeeTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.SeeTimeout)
	}
	if cfg.ScoreThreshold != 0.25 {
		t.Errorf("expected threshold 0.25, got %v", cfg.ScoreThreshold)
	}
	if cfg.SampleInterval != 70 {
		t.Errorf("invalid value should fall back to default, got %d", cfg.SampleInterval)
	}
}

func TestConfig_Apply(t *testing.T) {
	cfg := (&Config{ServerAddr: ":8080"}).Apply(Overrides{Port: 4000, UseTURN: true})
	if cfg.ServerAddr != ":4000" || !cfg.UseTURN {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	cfg = (&Config{ServerAddr: ":8080", UseTURN: true}).Apply(Overrides{})
	if cfg.ServerAddr != ":8080" || !cfg.UseTURN {
		t.Errorf("zero overrides changed config: %+v", cfg)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
