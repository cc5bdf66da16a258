// Package lineartrack implements the issue-tracker style transport.
//
// A HIAMP channel maps to an issue; messages are comments on it. Channel
// resolution runs a three-stage cascade: explicit issue identifier, project
// context, then the team's agent-comms fallback issue. Resolution results are
// cached in three independent TTL maps (context tag, issue identifier, team
// key).
package lineartrack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"

	"github.com/hiamp/hq/internal/cache"
	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/transport"
)

// Name is the registry name of this transport.
const Name = "linear"

const (
	defaultAPIBase = "https://api.linear.app/graphql"

	// AgentCommsTitle is the lazily created fallback issue.
	AgentCommsTitle = "[HIAMP] Agent Communications"

	resolverTimeout = 10 * time.Second
)

var (
	identifierRe = regexp.MustCompile(`^[A-Z][A-Z0-9]*-\d+$`)
	uuidRe       = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

func init() {
	transport.Register(Name, func(cfg *config.Config, log *slog.Logger, clock clockwork.Clock) (transport.Transport, error) {
		return New(cfg, log, clock)
	})
}

// Tracker is the issue-tracker transport.
type Tracker struct {
	cfg    *config.Config
	linear *config.LinearConfig
	log    *slog.Logger
	client *resty.Client

	contexts    *cache.TTL // context tag -> issue UUID
	identifiers *cache.TTL // KEY-N identifier -> issue UUID
	teams       *cache.TTL // team key -> team UUID

	poller *poller
}

// New builds the transport from the loaded config.
func New(cfg *config.Config, log *slog.Logger, clock clockwork.Clock) (*Tracker, error) {
	if cfg.Linear == nil {
		return nil, fmt.Errorf("linear transport selected but linear block is missing")
	}
	base := cfg.Linear.APIBaseURL
	if base == "" {
		base = defaultAPIBase
	}
	client := resty.New().
		SetBaseURL(base).
		SetHeader("Authorization", cfg.Linear.APIKey).
		SetTimeout(30 * time.Second)

	ttl := time.Duration(cfg.Settings.ChannelCacheTTLSeconds) * time.Second
	return &Tracker{
		cfg:         cfg,
		linear:      cfg.Linear,
		log:         log,
		client:      client,
		contexts:    cache.New(ttl, clock),
		identifiers: cache.New(ttl, clock),
		teams:       cache.New(ttl, clock),
	}, nil
}

func (t *Tracker) Name() string { return Name }

// ResolveChannel applies the cascade: explicit identifier, project context,
// agent-comms fallback. The returned channel id is the issue UUID, which also
// serves as the thread reference.
func (t *Tracker) ResolveChannel(ctx context.Context, targetPeer, contextTag, channelID string) (transport.Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, resolverTimeout)
	defer cancel()

	// Stage 1: explicit issue identifier or UUID.
	if channelID != "" {
		return t.resolveExplicit(ctx, channelID)
	}

	// Stage 2: project context.
	if contextTag != "" {
		if _, mapped := t.linear.ProjectMappings[contextTag]; mapped {
			return t.resolveContext(ctx, contextTag)
		}
	}

	// Stage 3: agent-comms fallback.
	return t.resolveFallback(ctx)
}

func (t *Tracker) resolveExplicit(ctx context.Context, channelID string) (transport.Endpoint, error) {
	if uuidRe.MatchString(channelID) {
		return transport.Endpoint{ChannelID: channelID, ChannelName: channelID, Strategy: "explicit"}, nil
	}
	if !identifierRe.MatchString(channelID) {
		return transport.Endpoint{}, fault.Newf(fault.CodeIssueNotFound, "%q is not an issue identifier", channelID)
	}
	if id, ok := t.identifiers.Get(channelID); ok {
		return transport.Endpoint{ChannelID: id, ChannelName: channelID, Strategy: "explicit"}, nil
	}
	id, err := t.issueByIdentifier(ctx, channelID)
	if err != nil {
		return transport.Endpoint{}, err
	}
	t.identifiers.Put(channelID, id)
	return transport.Endpoint{ChannelID: id, ChannelName: channelID, Strategy: "explicit"}, nil
}

func (t *Tracker) resolveContext(ctx context.Context, contextTag string) (transport.Endpoint, error) {
	title := "[HIAMP] " + contextTag
	if id, ok := t.contexts.Get(contextTag); ok {
		return transport.Endpoint{ChannelID: id, ChannelName: title, Strategy: "project-context"}, nil
	}

	teamID, err := t.teamUUID(ctx, t.linear.DefaultTeam)
	if err != nil {
		return transport.Endpoint{}, err
	}
	id, err := t.findIssueByTitle(ctx, teamID, title)
	if err != nil {
		return transport.Endpoint{}, err
	}
	if id == "" {
		id, err = t.createIssue(ctx, teamID, t.linear.ProjectMappings[contextTag], title)
		if err != nil {
			return transport.Endpoint{}, err
		}
	}
	t.contexts.Put(contextTag, id)
	return transport.Endpoint{ChannelID: id, ChannelName: title, Strategy: "project-context"}, nil
}

func (t *Tracker) resolveFallback(ctx context.Context) (transport.Endpoint, error) {
	team, ok := t.linear.Team(t.linear.DefaultTeam)
	if !ok {
		return transport.Endpoint{}, fault.Newf(fault.CodeUnknownTeam, "default team %q is not configured", t.linear.DefaultTeam)
	}
	if team.AgentCommsIssueID != "" {
		return transport.Endpoint{ChannelID: team.AgentCommsIssueID, ChannelName: AgentCommsTitle, Strategy: "agent-comms"}, nil
	}

	if id, ok := t.contexts.Get("\x00agent-comms"); ok {
		return transport.Endpoint{ChannelID: id, ChannelName: AgentCommsTitle, Strategy: "agent-comms"}, nil
	}
	teamID, err := t.teamUUID(ctx, team.Key)
	if err != nil {
		return transport.Endpoint{}, err
	}
	id, err := t.findIssueByTitle(ctx, teamID, AgentCommsTitle)
	if err != nil {
		return transport.Endpoint{}, err
	}
	if id == "" {
		id, err = t.createIssue(ctx, teamID, "", AgentCommsTitle)
		if err != nil {
			return transport.Endpoint{}, err
		}
	}
	t.contexts.Put("\x00agent-comms", id)
	return transport.Endpoint{ChannelID: id, ChannelName: AgentCommsTitle, Strategy: "agent-comms"}, nil
}

// Send creates a comment on the issue; the issue UUID is the thread ref.
func (t *Tracker) Send(ctx context.Context, channelID, text string) (transport.SendResult, error) {
	commentID, err := t.createComment(ctx, channelID, text)
	if err != nil {
		return transport.SendResult{}, err
	}
	return transport.SendResult{TransportMessageID: commentID, ThreadRef: channelID}, nil
}

// SendReply adds another comment to the same issue.
func (t *Tracker) SendReply(ctx context.Context, threadRef, text string) (transport.SendResult, error) {
	commentID, err := t.createComment(ctx, threadRef, text)
	if err != nil {
		return transport.SendResult{}, err
	}
	return transport.SendResult{TransportMessageID: commentID, ThreadRef: threadRef}, nil
}

// FetchReplies returns the bodies of every comment on the issue.
func (t *Tracker) FetchReplies(ctx context.Context, threadRef string) ([]string, error) {
	comments, err := t.listComments(ctx, threadRef)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Body)
	}
	return texts, nil
}
