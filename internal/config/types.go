// Package config loads and validates the declarative HQ configuration.
//
// The config file is YAML with kebab-case keys. String values beginning with
// "$" are resolved against the process environment at load time. Defaults are
// applied after unmarshalling; validation accumulates field errors instead of
// stopping at the first.
package config

import "fmt"

// Transport names accepted by the "transport" key.
const (
	TransportSlack  = "slack"
	TransportLinear = "linear"
)

// Channel strategies for the chat transport.
const (
	StrategyDedicated       = "dedicated"
	StrategyPerRelationship = "per-relationship"
	StrategyContextual      = "contextual"
	StrategyDM              = "dm"
)

// Config is the typed view of the HQ configuration file.
type Config struct {
	Identity          Identity          `yaml:"identity"`
	Peers             []Peer            `yaml:"peers"`
	Transport         string            `yaml:"transport"`
	Slack             *SlackConfig      `yaml:"slack,omitempty"`
	Linear            *LinearConfig     `yaml:"linear,omitempty"`
	WorkerPermissions WorkerPermissions `yaml:"worker-permissions"`
	Security          Security          `yaml:"security"`
	Settings          Settings          `yaml:"settings"`
	Debug             bool              `yaml:"debug,omitempty"`
}

// Identity names the local HQ.
type Identity struct {
	Owner       string `yaml:"owner"`
	InstanceID  string `yaml:"instance-id"`
	DisplayName string `yaml:"display-name,omitempty"`
}

// Peer is a remote HQ reachable through the shared transport.
type Peer struct {
	Owner       string   `yaml:"owner"`
	TrustLevel  string   `yaml:"trust-level,omitempty"`
	Workers     []string `yaml:"workers"`
	BotID       string   `yaml:"bot-id,omitempty"`
	DisplayName string   `yaml:"display-name,omitempty"`
}

// HasWorker reports whether the peer declares the named worker.
func (p Peer) HasWorker(worker string) bool {
	for _, w := range p.Workers {
		if w == worker {
			return true
		}
	}
	return false
}

// SlackConfig is the chat-room transport block.
type SlackConfig struct {
	BotToken        string            `yaml:"bot-token"`
	AppToken        string            `yaml:"app-token,omitempty"`
	ChannelStrategy string            `yaml:"channel-strategy"`
	Channel         string            `yaml:"channel,omitempty"`          // dedicated strategy
	Contexts        []ContextChannel  `yaml:"contexts,omitempty"`         // contextual strategy
	PeerChannels    map[string]string `yaml:"peer-channels,omitempty"`    // per-relationship strategy
	APIBaseURL      string            `yaml:"api-base-url,omitempty"`     // override for tests
	SocketURL       string            `yaml:"socket-url,omitempty"`       // event stream endpoint
}

// ContextChannel binds a context tag to a channel and its subscriber peers.
type ContextChannel struct {
	Tag         string   `yaml:"tag"`
	Channel     string   `yaml:"channel"`
	Subscribers []string `yaml:"subscribers,omitempty"`
}

// LinearConfig is the issue-tracker transport block.
type LinearConfig struct {
	APIKey           string            `yaml:"api-key"`
	DefaultTeam      string            `yaml:"default-team"`
	Teams            []LinearTeam      `yaml:"teams"`
	ProjectMappings  map[string]string `yaml:"project-mappings,omitempty"` // context tag -> project id
	APIBaseURL       string            `yaml:"api-base-url,omitempty"`     // override for tests
}

// LinearTeam describes one team key known to the tracker.
type LinearTeam struct {
	Key               string `yaml:"key"`
	ID                string `yaml:"id,omitempty"`
	AgentCommsIssueID string `yaml:"agent-comms-issue-id,omitempty"`
}

// Team returns the team with the given key.
func (lc *LinearConfig) Team(key string) (LinearTeam, bool) {
	for _, t := range lc.Teams {
		if t.Key == key {
			return t, true
		}
	}
	return LinearTeam{}, false
}

// WorkerPermissions is the per-worker send/receive policy.
type WorkerPermissions struct {
	Default string             `yaml:"default"` // "allow" or "deny"
	Workers []WorkerPermission `yaml:"workers,omitempty"`
}

// WorkerPermission is the policy entry for one local worker.
type WorkerPermission struct {
	ID             string   `yaml:"id"`
	Send           bool     `yaml:"send"`
	Receive        bool     `yaml:"receive"`
	AllowedIntents []string `yaml:"allowed-intents,omitempty"`
	AllowedPeers   []string `yaml:"allowed-peers,omitempty"`
}

// Worker returns the permission entry for a worker id.
func (wp WorkerPermissions) Worker(id string) (WorkerPermission, bool) {
	for _, w := range wp.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerPermission{}, false
}

// Security carries the operator safety switches.
type Security struct {
	KillSwitch   bool          `yaml:"kill-switch,omitempty"`
	TrustLevel   string        `yaml:"trust-level,omitempty"`
	RateLimiting *RateLimiting `yaml:"rate-limiting,omitempty"`
}

// RateLimiting caps outbound message volume.
type RateLimiting struct {
	MaxMessagesPerMinute       int `yaml:"max-messages-per-minute"`
	MaxMessagesPerMinuteGlobal int `yaml:"max-messages-per-minute-global"`
}

// Settings are operational knobs with explicit defaults.
type Settings struct {
	Enabled                  *bool  `yaml:"enabled,omitempty"`
	AckTimeoutSeconds        int    `yaml:"ack-timeout-seconds,omitempty"`
	MaxRetries               int    `yaml:"max-retries,omitempty"`
	ThreadIdleTimeoutSeconds int    `yaml:"thread-idle-timeout-seconds,omitempty"`
	ThreadMaxAgeSeconds      int    `yaml:"thread-max-age-seconds,omitempty"`
	MessageMaxLength         int    `yaml:"message-max-length,omitempty"`
	AttachmentMaxLength      int    `yaml:"attachment-max-length,omitempty"`
	ChannelCacheTTLSeconds   int    `yaml:"channel-cache-ttl-seconds,omitempty"`
	InboxPath                string `yaml:"inbox-path,omitempty"`
	ThreadLogPath            string `yaml:"thread-log-path,omitempty"`
}

// IsEnabled reports whether outbound messaging is switched on.
func (s Settings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// PeerByOwner returns the configured peer with the given owner name.
func (c *Config) PeerByOwner(owner string) (Peer, bool) {
	for _, p := range c.Peers {
		if p.Owner == owner {
			return p, true
		}
	}
	return Peer{}, false
}

// FieldError is one validation finding.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
