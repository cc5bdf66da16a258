// Package transport defines the capability set every carrier must implement
// and the registry that maps the configured transport name to a constructor.
//
// Both the messaging core and the transfer engine talk to a Transport value;
// nothing above this interface knows whether the carrier is a chat workspace
// or an issue tracker.
package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/fault"
)

// Endpoint is a resolved transport-native destination.
type Endpoint struct {
	ChannelID   string
	ChannelName string
	Strategy    string
}

// SendResult reports a successful post.
type SendResult struct {
	TransportMessageID string
	ThreadRef          string
}

// Incoming is inbound envelope-bearing text surfaced by Watch.
type Incoming struct {
	Text      string
	ThreadRef string
	ChannelID string
}

// Handler receives inbound messages.
type Handler func(Incoming)

// Transport is the capability set shared by all carriers.
type Transport interface {
	// Name returns the transport's registry name.
	Name() string

	// ResolveChannel maps a logical destination to a transport-native
	// endpoint. Results are cached per transport within the configured TTL.
	ResolveChannel(ctx context.Context, targetPeer, contextTag, channelID string) (Endpoint, error)

	// Send posts text as a new root-level artifact in the channel.
	Send(ctx context.Context, channelID, text string) (SendResult, error)

	// SendReply posts text as a threaded response to a prior root artifact.
	SendReply(ctx context.Context, threadRef, text string) (SendResult, error)

	// Watch surfaces inbound envelope-bearing text until Unwatch is called.
	Watch(handler Handler) error
	Unwatch()

	// FetchReplies pulls threaded responses for transports that do not push.
	FetchReplies(ctx context.Context, threadRef string) ([]string, error)
}

// Factory constructs a transport from the loaded config.
type Factory func(cfg *config.Config, log *slog.Logger, clock clockwork.Clock) (Transport, error)

var registry = make(map[string]Factory)

// Register adds a factory under a transport name; called from package init.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New constructs the transport selected by cfg.Transport.
func New(cfg *config.Config, log *slog.Logger, clock clockwork.Clock) (Transport, error) {
	factory, ok := registry[cfg.Transport]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return factory(cfg, log, clock)
}

// MapHTTPStatus translates a backing-API HTTP status into the engine's error
// taxonomy.
func MapHTTPStatus(status int) fault.Code {
	switch status {
	case 401, 403:
		return fault.CodePermissionDenied
	case 404:
		return fault.CodeIssueNotFound
	case 429:
		return fault.CodeRateLimited
	default:
		return fault.CodeAPIError
	}
}
