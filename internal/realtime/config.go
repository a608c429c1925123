package realtime

import "time"

type Config struct {
	ICEServers  []ICEServerConfig
	TURNServers []ICEServerConfig
	UseTURN     bool
	PortRange   PortRange
	MaxSDPSize  int
	PLIInterval time.Duration
	StreamID    string
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

type PortRange struct {
	Min int
	Max int
}

const (
	defaultMaxSDPSize  = 64 * 1024
	defaultPLIInterval = 2 * time.Second
	defaultStreamID    = "see-stream"
	defaultSTUNServer  = "stun:stun.l.google.com:19302"
)

func (c Config) withDefaults() Config {
	if c.MaxSDPSize <= 0 {
		c.MaxSDPSize = defaultMaxSDPSize
	}
	if c.PLIInterval <= 0 {
		c.PLIInterval = defaultPLIInterval
	}
	if c.StreamID == "" {
		c.StreamID = defaultStreamID
	}
	return c
}

// Servers returns the ICE servers handed to peers. TURN entries are only
// included when UseTURN is set.
func (c Config) Servers() []ICEServerConfig {
	servers := make([]ICEServerConfig, 0, len(c.ICEServers)+len(c.TURNServers))
	servers = append(servers, c.ICEServers...)
	if c.UseTURN {
		servers = append(servers, c.TURNServers...)
	}
	if len(servers) == 0 {
		servers = append(servers, ICEServerConfig{URLs: []string{defaultSTUNServer}})
	}
	return servers
}
