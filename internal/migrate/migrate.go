// Package migrate converts a chat-style HQ configuration to an issue-tracker
// one. The transform is pure: it never touches disk, and anything it cannot
// map automatically comes back as a warning for the operator.
package migrate

import (
	"fmt"

	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/fault"
)

// PlaceholderProjectID marks a project mapping the operator must fill in
// before the migrated config validates against a live workspace.
const PlaceholderProjectID = "TODO-project-id"

// Result is the outcome of a migration.
type Result struct {
	Config   *config.Config
	Warnings []string
	Summary  []string
}

// SlackToLinear rewrites a slack-transport config as a linear-transport one.
// Identity, peers and worker permissions carry over untouched; the channel
// strategy maps onto teams and project mappings.
func SlackToLinear(src *config.Config, defaultTeam string) (*Result, error) {
	if src.Transport != config.TransportSlack {
		return nil, fault.Newf(fault.CodeConfigValidation, "source config transport is %q, want %q", src.Transport, config.TransportSlack)
	}
	if src.Slack == nil {
		return nil, fault.New(fault.CodeConfigMissing, "source config has no slack section")
	}
	if defaultTeam == "" {
		defaultTeam = "ENG"
	}

	out := *src
	out.Transport = config.TransportLinear
	out.Slack = nil
	out.Linear = &config.LinearConfig{
		APIKey:      "$LINEAR_API_KEY",
		DefaultTeam: defaultTeam,
		Teams:       []config.LinearTeam{{Key: defaultTeam, ID: PlaceholderProjectID}},
	}

	res := &Result{Config: &out}
	res.note("transport: slack -> linear")
	res.note("default team: %s (set team id before use)", defaultTeam)
	res.note("carried over %d peers and %d worker permission entries",
		len(out.Peers), len(out.WorkerPermissions.Workers))

	switch src.Slack.ChannelStrategy {
	case config.StrategyDedicated:
		res.note("dedicated channel %s maps to the default team; no project mappings needed", src.Slack.Channel)

	case config.StrategyContextual:
		out.Linear.ProjectMappings = make(map[string]string, len(src.Slack.Contexts))
		for _, c := range src.Slack.Contexts {
			out.Linear.ProjectMappings[c.Tag] = PlaceholderProjectID
			res.note("context %s (channel %s) mapped with a placeholder project id", c.Tag, c.Channel)
		}
		if len(src.Slack.Contexts) > 0 {
			res.warn("fill in the %d placeholder project ids under project-mappings", len(src.Slack.Contexts))
		}

	case config.StrategyPerRelationship:
		for peer, channel := range src.Slack.PeerChannels {
			res.warn("per-relationship channel for peer %s (%s) has no tracker equivalent; those messages will use the default team", peer, channel)
		}
		if len(src.Slack.PeerChannels) == 0 {
			res.warn("per-relationship strategy has no tracker equivalent; messages will use the default team")
		}

	case config.StrategyDM:
		res.warn("dm strategy has no tracker equivalent; messages will use the default team")

	default:
		return nil, fault.Newf(fault.CodeConfigValidation, "unknown channel strategy %q", src.Slack.ChannelStrategy)
	}

	res.warn("api-key references $LINEAR_API_KEY; export it before running")
	return res, nil
}

func (r *Result) note(format string, args ...interface{}) {
	r.Summary = append(r.Summary, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
