package realtime

import (
	"testing"
	"time"
)

func TestConfig_withDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MaxSDPSize != 64*1024 {
		t.Errorf("expected default max SDP size 64KB, got %d", cfg.MaxSDPSize)
	}
	if cfg.PLIInterval != 2*time.Second {
		t.Errorf("expected default PLI interval, got %v", cfg.PLIInterval)
	}
	if cfg.StreamID != "see-stream" {
		t.Errorf("expected default stream id, got %q", cfg.StreamID)
	}

	custom := Config{MaxSDPSize: 1024, PLIInterval: time.Second, StreamID: "x"}.withDefaults()
	if custom.MaxSDPSize != 1024 || custom.PLIInterval != time.Second || custom.StreamID != "x" {
		t.Errorf("custom values should be kept, got %+v", custom)
	}
}

func TestConfig_ServersDefault(t *testing.T) {
	servers := Config{}.Servers()
	if len(servers) != 1 {
		t.Fatalf("expected 1 default server, got %d", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("expected default STUN server, got %s", servers[0].URLs[0])
	}
}

func TestConfig_ServersTURNToggle(t *testing.T) {
	cfg := Config{
		ICEServers:  []ICEServerConfig{{URLs: []string{"stun:stun.example.com"}}},
		TURNServers: []ICEServerConfig{{URLs: []string{"turn:turn.example.com"}, Username: "user", Credential: "pass"}},
	}

	if servers := cfg.Servers(); len(servers) != 1 {
		t.Errorf("TURN servers should be excluded when disabled, got %d", len(servers))
	}

	cfg.UseTURN = true
	servers := cfg.Servers()
	if len(servers) != 2 {
		t.Fatalf("expected STUN and TURN servers, got %d", len(servers))
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Errorf("unexpected TURN entry %+v", servers[1])
	}
}
