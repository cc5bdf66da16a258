package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/ident"
)

// EnvConfigPath names the config file when --config is absent.
const EnvConfigPath = "HIAMP_CONFIG_PATH"

// Defaults per the operational contract.
const (
	DefaultTrustLevel             = "channel-scoped"
	DefaultAckTimeoutSeconds      = 300
	DefaultMaxRetries             = 1
	DefaultThreadIdleSeconds      = 86400
	DefaultThreadMaxAgeSeconds    = 604800
	DefaultMessageMaxLength       = 4000
	DefaultAttachmentMaxLength    = 4000
	DefaultChannelCacheTTLSeconds = 300
	DefaultInboxPath              = "workspace/inbox"
	DefaultThreadLogPath          = "workspace/threads/hiamp"
)

var validIntents = map[string]bool{
	"handoff": true, "request": true, "inform": true, "acknowledge": true,
	"query": true, "response": true, "error": true, "share": true,
}

// Load reads, substitutes, validates and defaults the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.CodeConfigMissing, fmt.Sprintf("failed to read config file %s", path), err)
	}
	return Parse(data)
}

// Parse loads a config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fault.Wrap(fault.CodeConfigParse, "failed to parse config", err)
	}

	var errs []FieldError
	resolveEnv(reflect.ValueOf(&cfg).Elem(), "", &errs)

	// A missing required section fails fast; everything else accumulates.
	if cfg.Identity.Owner == "" && cfg.Identity.InstanceID == "" {
		return nil, fault.New(fault.CodeConfigMissing, "config is missing the identity section")
	}
	if cfg.Transport == "" {
		return nil, fault.New(fault.CodeConfigMissing, "config is missing the transport selection")
	}

	applyDefaults(&cfg)
	errs = append(errs, validate(&cfg)...)
	if len(errs) > 0 {
		var lines []string
		for _, e := range errs {
			lines = append(lines, e.Error())
		}
		f := fault.New(fault.CodeConfigValidation, "config validation failed")
		f.Detail = strings.Join(lines, "; ")
		return nil, f
	}
	return &cfg, nil
}

// resolveEnv walks every string field and replaces "$NAME" values with the
// named environment variable. Unset references accumulate as field errors.
func resolveEnv(v reflect.Value, path string, errs *[]FieldError) {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		if strings.HasPrefix(s, "$") && len(s) > 1 {
			name := s[1:]
			val, ok := os.LookupEnv(name)
			if !ok {
				*errs = append(*errs, FieldError{Field: path, Message: fmt.Sprintf("environment variable %s is not set", name)})
				return
			}
			if v.CanSet() {
				v.SetString(val)
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			resolveEnv(v.Elem(), path, errs)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			name := strings.SplitN(t.Field(i).Tag.Get("yaml"), ",", 2)[0]
			if name == "" {
				name = t.Field(i).Name
			}
			resolveEnv(v.Field(i), joinField(path, name), errs)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			resolveEnv(v.Index(i), fmt.Sprintf("%s[%d]", path, i), errs)
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key)
			if elem.Kind() == reflect.String {
				s := elem.String()
				if strings.HasPrefix(s, "$") && len(s) > 1 {
					val, ok := os.LookupEnv(s[1:])
					if !ok {
						*errs = append(*errs, FieldError{Field: joinField(path, key.String()), Message: fmt.Sprintf("environment variable %s is not set", s[1:])})
						continue
					}
					v.SetMapIndex(key, reflect.ValueOf(val))
				}
			}
		}
	}
}

func joinField(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func applyDefaults(cfg *Config) {
	if cfg.WorkerPermissions.Default == "" {
		cfg.WorkerPermissions.Default = "deny"
	}
	if cfg.Security.TrustLevel == "" {
		cfg.Security.TrustLevel = DefaultTrustLevel
	}
	s := &cfg.Settings
	if s.AckTimeoutSeconds == 0 {
		s.AckTimeoutSeconds = DefaultAckTimeoutSeconds
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.ThreadIdleTimeoutSeconds == 0 {
		s.ThreadIdleTimeoutSeconds = DefaultThreadIdleSeconds
	}
	if s.ThreadMaxAgeSeconds == 0 {
		s.ThreadMaxAgeSeconds = DefaultThreadMaxAgeSeconds
	}
	if s.MessageMaxLength == 0 {
		s.MessageMaxLength = DefaultMessageMaxLength
	}
	if s.AttachmentMaxLength == 0 {
		s.AttachmentMaxLength = DefaultAttachmentMaxLength
	}
	if s.ChannelCacheTTLSeconds == 0 {
		s.ChannelCacheTTLSeconds = DefaultChannelCacheTTLSeconds
	}
	if s.InboxPath == "" {
		s.InboxPath = DefaultInboxPath
	}
	if s.ThreadLogPath == "" {
		s.ThreadLogPath = DefaultThreadLogPath
	}
	for i := range cfg.Peers {
		if cfg.Peers[i].TrustLevel == "" {
			cfg.Peers[i].TrustLevel = cfg.Security.TrustLevel
		}
	}
}

func validate(cfg *Config) []FieldError {
	var errs []FieldError

	if !ident.ValidOwner(cfg.Identity.Owner) {
		errs = append(errs, FieldError{Field: "identity.owner", Message: fmt.Sprintf("%q is not a valid owner name", cfg.Identity.Owner)})
	}
	if !ident.ValidOwner(cfg.Identity.InstanceID) {
		errs = append(errs, FieldError{Field: "identity.instance-id", Message: fmt.Sprintf("%q is not a valid instance id", cfg.Identity.InstanceID)})
	}

	for i, p := range cfg.Peers {
		field := fmt.Sprintf("peers[%d]", i)
		if !ident.ValidOwner(p.Owner) {
			errs = append(errs, FieldError{Field: field + ".owner", Message: fmt.Sprintf("%q is not a valid owner name", p.Owner)})
		}
		if len(p.Workers) == 0 {
			errs = append(errs, FieldError{Field: field + ".workers", Message: "peer declares no workers"})
		}
	}

	switch cfg.Transport {
	case TransportSlack:
		errs = append(errs, validateSlack(cfg.Slack)...)
	case TransportLinear:
		errs = append(errs, validateLinear(cfg.Linear)...)
	default:
		errs = append(errs, FieldError{Field: "transport", Message: fmt.Sprintf("unknown transport %q (want slack or linear)", cfg.Transport)})
	}

	if d := cfg.WorkerPermissions.Default; d != "allow" && d != "deny" {
		errs = append(errs, FieldError{Field: "worker-permissions.default", Message: fmt.Sprintf("%q is not a valid default (want allow or deny)", d)})
	}
	for i, w := range cfg.WorkerPermissions.Workers {
		field := fmt.Sprintf("worker-permissions.workers[%d]", i)
		if w.ID == "" {
			errs = append(errs, FieldError{Field: field + ".id", Message: "worker id is required"})
		}
		for _, intent := range w.AllowedIntents {
			if !validIntents[intent] {
				errs = append(errs, FieldError{Field: field + ".allowed-intents", Message: fmt.Sprintf("unknown intent %q", intent)})
			}
		}
	}

	return errs
}

func validateSlack(sc *SlackConfig) []FieldError {
	if sc == nil {
		return []FieldError{{Field: "slack", Message: "slack transport selected but slack block is missing"}}
	}
	var errs []FieldError
	if sc.BotToken == "" {
		errs = append(errs, FieldError{Field: "slack.bot-token", Message: "bot token is required"})
	}
	switch sc.ChannelStrategy {
	case StrategyDedicated:
		if sc.Channel == "" {
			errs = append(errs, FieldError{Field: "slack.channel", Message: "dedicated strategy requires a channel"})
		}
	case StrategyContextual:
		if len(sc.Contexts) == 0 {
			errs = append(errs, FieldError{Field: "slack.contexts", Message: "contextual strategy requires at least one context"})
		}
	case StrategyPerRelationship, StrategyDM:
		// endpoints are derived per peer
	default:
		errs = append(errs, FieldError{Field: "slack.channel-strategy", Message: fmt.Sprintf("unknown channel strategy %q", sc.ChannelStrategy)})
	}
	return errs
}

func validateLinear(lc *LinearConfig) []FieldError {
	if lc == nil {
		return []FieldError{{Field: "linear", Message: "linear transport selected but linear block is missing"}}
	}
	var errs []FieldError
	if lc.APIKey == "" {
		errs = append(errs, FieldError{Field: "linear.api-key", Message: "api key is required"})
	}
	if lc.DefaultTeam == "" {
		errs = append(errs, FieldError{Field: "linear.default-team", Message: "default team is required"})
	} else if _, ok := lc.Team(lc.DefaultTeam); !ok {
		errs = append(errs, FieldError{Field: "linear.default-team", Message: fmt.Sprintf("default team %q does not appear in the team list", lc.DefaultTeam)})
	}
	return errs
}
