package lavago

import (
	"fmt"
	"time"
)

// Config describes one configured worker node.
type Config struct {
	// Identifier uniquely names this node within a NodePool. Defaults to
	// "host:port" if left empty (see Config.identifier).
	Identifier string
	// Region is an optional affinity tag used by NodePool.PickByRegion.
	Region string
	// Authorization is the password for the node.
	Authorization string
	// Max buffer size for the websocket connection.
	BufferSize int
	// Toggle the node's session-resume capability.
	EnableResume bool
	// Node's IP/hostname.
	Hostname string
	// Port to connect to.
	Port int
	// Use TLS when connecting to the node.
	SSL bool
	// Applied as the Client-Name header on connect, e.g. "lavago/1.0".
	UserAgent string
	// How many reconnect attempts are allowed; 0 means infinite.
	ReconnectAttempts int
	// Base reconnect delay; actual delay is min(ReconnectDelay*attempts, 30s).
	ReconnectDelay time.Duration
	// ResumeKey identifies this client across a reconnect.
	ResumeKey string
	// ResumeTimeout bounds how long the node retains session state across a drop.
	ResumeTimeout time.Duration
	// Whether to self-deafen when joining voice channels through this node.
	SelfDeaf bool
	// RequestTimeout bounds every REST call (loadTracks, updatePlayer, ...).
	RequestTimeout time.Duration
}

// NewConfig returns a Config populated with the spec's enumerated defaults.
func NewConfig() *Config {
	return &Config{
		Authorization:     "youshallnotpass",
		BufferSize:        4096,
		EnableResume:      true,
		Hostname:          "127.0.0.1",
		Port:              2333,
		SSL:               false,
		ReconnectAttempts: 5,
		ReconnectDelay:    5 * time.Second,
		ResumeKey:         "lavago",
		ResumeTimeout:     60 * time.Second,
		SelfDeaf:          true,
		RequestTimeout:    10 * time.Second,
	}
}

func (cfg *Config) socketEndpoint() string {
	scheme := "ws"
	if cfg.SSL {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%v/v4/websocket", scheme, cfg.Hostname, cfg.Port)
}

func (cfg *Config) httpEndpoint() string {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%v", scheme, cfg.Hostname, cfg.Port)
}

func (cfg *Config) identifier() string {
	if cfg.Identifier != "" {
		return cfg.Identifier
	}
	return fmt.Sprintf("%s:%v", cfg.Hostname, cfg.Port)
}
