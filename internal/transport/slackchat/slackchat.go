// Package slackchat implements the chat-room style transport.
//
// Channels are resolved per the operator's chosen strategy (dedicated,
// per-relationship, contextual, dm); messages are posted over the workspace
// HTTP API and inbound traffic arrives on a long-lived socket connection.
package slackchat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"

	"github.com/hiamp/hq/internal/cache"
	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/transport"
)

// Name is the registry name of this transport.
const Name = "slack"

const defaultAPIBase = "https://slack.com/api"

func init() {
	transport.Register(Name, func(cfg *config.Config, log *slog.Logger, clock clockwork.Clock) (transport.Transport, error) {
		return New(cfg, log, clock)
	})
}

// Chat is the chat-room transport.
type Chat struct {
	cfg      *config.Config
	slack    *config.SlackConfig
	log      *slog.Logger
	client   *resty.Client
	channels *cache.TTL // resolveChannel memo: key -> channel id

	watchMu   sync.Mutex
	watchStop chan struct{}
}

// New builds the transport from the loaded config.
func New(cfg *config.Config, log *slog.Logger, clock clockwork.Clock) (*Chat, error) {
	if cfg.Slack == nil {
		return nil, fmt.Errorf("slack transport selected but slack block is missing")
	}
	base := cfg.Slack.APIBaseURL
	if base == "" {
		base = defaultAPIBase
	}
	client := resty.New().
		SetBaseURL(base).
		SetAuthToken(cfg.Slack.BotToken).
		SetTimeout(30 * time.Second)

	ttl := time.Duration(cfg.Settings.ChannelCacheTTLSeconds) * time.Second
	return &Chat{
		cfg:      cfg,
		slack:    cfg.Slack,
		log:      log,
		client:   client,
		channels: cache.New(ttl, clock),
	}, nil
}

func (c *Chat) Name() string { return Name }

// ResolveChannel maps (peer, context) to a channel id per the configured
// strategy. An explicit channelID short-circuits resolution.
func (c *Chat) ResolveChannel(ctx context.Context, targetPeer, contextTag, channelID string) (transport.Endpoint, error) {
	strategy := c.slack.ChannelStrategy
	if channelID != "" {
		return transport.Endpoint{ChannelID: channelID, ChannelName: channelID, Strategy: "explicit"}, nil
	}

	cacheKey := strategy + "\x00" + targetPeer + "\x00" + contextTag
	if id, ok := c.channels.Get(cacheKey); ok {
		return transport.Endpoint{ChannelID: id, Strategy: strategy}, nil
	}

	var (
		id   string
		name string
		err  error
	)
	switch strategy {
	case config.StrategyDedicated:
		id, name = c.slack.Channel, c.slack.Channel
	case config.StrategyContextual:
		entry, ok := c.contextEntry(contextTag)
		if !ok {
			return transport.Endpoint{}, fault.Newf(fault.CodeNoContextMatch, "no channel declared for context %q", contextTag)
		}
		id, name = entry.Channel, entry.Channel
	case config.StrategyPerRelationship:
		id, name, err = c.relationshipChannel(ctx, targetPeer)
	case config.StrategyDM:
		id, err = c.openDM(ctx, targetPeer)
		name = "dm:" + targetPeer
	default:
		return transport.Endpoint{}, fault.Newf(fault.CodeChannelResolveFailed, "unknown channel strategy %q", strategy)
	}
	if err != nil {
		return transport.Endpoint{}, err
	}

	c.channels.Put(cacheKey, id)
	return transport.Endpoint{ChannelID: id, ChannelName: name, Strategy: strategy}, nil
}

func (c *Chat) contextEntry(tag string) (config.ContextChannel, bool) {
	for _, entry := range c.slack.Contexts {
		if entry.Tag == tag {
			return entry, true
		}
	}
	return config.ContextChannel{}, false
}

// relationshipChannel returns the channel for an ordered peer pair, creating
// it lazily when the operator has not mapped one.
func (c *Chat) relationshipChannel(ctx context.Context, targetPeer string) (id, name string, err error) {
	if mapped, ok := c.slack.PeerChannels[targetPeer]; ok {
		return mapped, mapped, nil
	}
	pair := []string{c.cfg.Identity.Owner, targetPeer}
	sort.Strings(pair)
	name = fmt.Sprintf("hq-%s-%s", pair[0], pair[1])
	id, err = c.createChannel(ctx, name)
	return id, name, err
}

func (c *Chat) openDM(ctx context.Context, targetPeer string) (string, error) {
	peer, ok := c.cfg.PeerByOwner(targetPeer)
	if !ok || peer.BotID == "" {
		return "", fault.Newf(fault.CodeChannelResolveFailed, "peer %q has no bot id for dm strategy", targetPeer)
	}
	var out struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"users": peer.BotID}).
		SetResult(&out).
		Post("/conversations.open")
	if err := c.apiError(resp, err, out.OK, out.Error); err != nil {
		return "", err
	}
	return out.Channel.ID, nil
}

func (c *Chat) createChannel(ctx context.Context, name string) (string, error) {
	var out struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&out).
		Post("/conversations.create")
	if err := c.apiError(resp, err, out.OK, out.Error); err != nil {
		return "", err
	}
	return out.Channel.ID, nil
}

// Send posts a top-level message. The thread reference is "<channel>:<ts>".
func (c *Chat) Send(ctx context.Context, channelID, text string) (transport.SendResult, error) {
	return c.post(ctx, channelID, text, "")
}

// SendReply posts inside the thread identified by threadRef.
func (c *Chat) SendReply(ctx context.Context, threadRef, text string) (transport.SendResult, error) {
	channelID, ts, ok := splitThreadRef(threadRef)
	if !ok {
		return transport.SendResult{}, fault.Newf(fault.CodeTransportError, "malformed thread ref %q", threadRef)
	}
	return c.post(ctx, channelID, text, ts)
}

func (c *Chat) post(ctx context.Context, channelID, text, threadTS string) (transport.SendResult, error) {
	body := map[string]string{"channel": channelID, "text": text}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		TS    string `json:"ts"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/chat.postMessage")
	if err := c.apiError(resp, err, out.OK, out.Error); err != nil {
		return transport.SendResult{}, err
	}
	ref := threadTS
	if ref == "" {
		ref = out.TS
	}
	return transport.SendResult{
		TransportMessageID: out.TS,
		ThreadRef:          channelID + ":" + ref,
	}, nil
}

// FetchReplies pulls the replies under a root message.
func (c *Chat) FetchReplies(ctx context.Context, threadRef string) ([]string, error) {
	channelID, ts, ok := splitThreadRef(threadRef)
	if !ok {
		return nil, fault.Newf(fault.CodeTransportError, "malformed thread ref %q", threadRef)
	}
	var out struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Messages []struct {
			Text string `json:"text"`
			TS   string `json:"ts"`
		} `json:"messages"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"channel": channelID, "ts": ts}).
		SetResult(&out).
		Get("/conversations.replies")
	if err := c.apiError(resp, err, out.OK, out.Error); err != nil {
		return nil, err
	}
	var texts []string
	for _, msg := range out.Messages {
		if msg.TS == ts {
			continue // the root message itself
		}
		texts = append(texts, msg.Text)
	}
	return texts, nil
}

func (c *Chat) apiError(resp *resty.Response, err error, ok bool, apiErr string) error {
	if err != nil {
		return fault.Wrap(fault.CodeNetworkError, "chat api request failed", err)
	}
	if resp.StatusCode() >= 400 {
		return fault.Newf(transport.MapHTTPStatus(resp.StatusCode()), "chat api returned status %d", resp.StatusCode())
	}
	if !ok {
		if apiErr == "ratelimited" {
			return fault.New(fault.CodeRateLimited, "chat api rate limited")
		}
		return fault.Newf(fault.CodeAPIError, "chat api error: %s", apiErr)
	}
	return nil
}

func splitThreadRef(ref string) (channelID, ts string, ok bool) {
	idx := strings.LastIndex(ref, ":")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}
