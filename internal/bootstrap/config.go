package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	GRPCAddr   string
	LogLevel   string

	UseTURN        bool
	RTCICEServers  []ICEServerConfig
	RTCTURNServers []ICEServerConfig
	RTCPortMin     int
	RTCPortMax     int
	PLIInterval    time.Duration

	InferenceURL     string
	InferenceTimeout time.Duration
	SampleInterval   int
	InputSize        int
	ScoreThreshold   float64
	HistoryTTL       time.Duration
	HistorySize      int

	SidewalkCommand string
	SidewalkArgs    []string
	SidewalkDir     string

	SeeTimeout   time.Duration
	LearnTimeout time.Duration
	FacesDir     string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

// Overrides carry values set on the command line. Zero values leave the
// environment configuration in place.
type Overrides struct {
	Port    int
	UseTURN bool
}

func LoadConfig() *Config {
	turnUser := getEnv("TURN_USERNAME", "")
	turnCredential := getEnv("TURN_CREDENTIAL", "")

	return &Config{
		ServerAddr: ":" + getEnv("PORT", "8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":50051"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		UseTURN:        getEnvBool("USE_TURN_SERVERS", false),
		RTCICEServers:  parseICEServers(getEnv("RTC_ICE_SERVERS", "stun:stun.l.google.com:19302"), "", ""),
		RTCTURNServers: parseICEServers(getEnv("RTC_TURN_SERVERS", ""), turnUser, turnCredential),
		RTCPortMin:     getEnvInt("RTC_PORT_MIN", 10000),
		RTCPortMax:     getEnvInt("RTC_PORT_MAX", 20000),
		PLIInterval:    getEnvDuration("RTC_PLI_INTERVAL", 2*time.Second),

		InferenceURL:     getEnv("INFERENCE_URL", "http://localhost:8000"),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 10*time.Second),
		SampleInterval:   getEnvInt("SAMPLE_INTERVAL", 70),
		InputSize:        getEnvInt("INFERENCE_INPUT_SIZE", 640),
		ScoreThreshold:   getEnvFloat("SCORE_THRESHOLD", 0),
		HistoryTTL:       getEnvDuration("DETECTION_HISTORY_TTL", 10*time.Minute),
		HistorySize:      getEnvInt("DETECTION_HISTORY_SIZE", 100),

		SidewalkCommand: getEnv("SIDEWALK_COMMAND", ""),
		SidewalkArgs:    strings.Fields(getEnv("SIDEWALK_ARGS", "")),
		SidewalkDir:     getEnv("SIDEWALK_DIR", ""),

		SeeTimeout:   getEnvDuration("SEE_TIMEOUT", 5*time.Second),
		LearnTimeout: getEnvDuration("LEARN_TIMEOUT", 20*time.Second),
		FacesDir:     getEnv("FACES_DIR", "./faces"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

// Apply layers command line overrides on top of the loaded configuration.
func (c *Config) Apply(o Overrides) *Config {
	if o.Port > 0 {
		c.ServerAddr = ":" + strconv.Itoa(o.Port)
	}
	if o.UseTURN {
		c.UseTURN = true
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseICEServers(envValue, username, credential string) []ICEServerConfig {
	var servers []ICEServerConfig
	for _, url := range strings.Split(envValue, ",") {
		url = strings.TrimSpace(url)
		if url != "" {
			servers = append(servers, ICEServerConfig{
				URLs:       []string{url},
				Username:   username,
				Credential: credential,
			})
		}
	}
	return servers
}
