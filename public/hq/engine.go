// Package hq runs the message engine in-process.
//
// Host programs embed an Engine instead of shelling out to the CLI: the same
// config, workspace and transport wiring, exposed as Go calls plus an event
// subscription.
package hq

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/hiamp/hq/internal/bus"
	"github.com/hiamp/hq/internal/codec"
	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/inbox"
	"github.com/hiamp/hq/internal/logging"
	"github.com/hiamp/hq/internal/sender"
	"github.com/hiamp/hq/internal/thread"
	"github.com/hiamp/hq/internal/transfer"
	"github.com/hiamp/hq/internal/transport"
	"github.com/hiamp/hq/internal/workspace"

	_ "github.com/hiamp/hq/internal/transport/lineartrack"
	_ "github.com/hiamp/hq/internal/transport/slackchat"
)

// Options configures an embedded engine.
type Options struct {
	ConfigPath string // falls back to HIAMP_CONFIG_PATH
	HQRoot     string // defaults to the current directory
	Debug      bool
	LogWriter  *os.File        // defaults to stderr
	Clock      clockwork.Clock // nil for real time
}

// Engine is the in-process engine instance.
type Engine struct {
	cfg      *config.Config  // boot config; identity and transport never change
	cfgs     *config.Runtime // live snapshot, swapped by hot reload
	ws       *workspace.Workspace
	log      *slog.Logger
	bus      *bus.Bus
	feed     *bus.Feed
	tr       transport.Transport
	sender   *sender.Sender
	threads  *thread.Manager
	inboxes  *inbox.Store
	xferLog  *transfer.Log
	exporter *transfer.Exporter
	importer *transfer.Importer
	peers    *transfer.PeerCache

	watchMu  sync.Mutex
	watching bool
	cancel   context.CancelFunc
}

// New loads config and wires the full engine. A .env file next to the
// working directory is loaded first so $NAME config references resolve.
func New(opts Options) (*Engine, error) {
	godotenv.Load()

	if opts.LogWriter == nil {
		opts.LogWriter = os.Stderr
	}
	log := logging.New(opts.LogWriter, opts.Debug)

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	root := opts.HQRoot
	if root == "" {
		root = "."
	}
	ws, err := workspace.New(root)
	if err != nil {
		return nil, err
	}

	tr, err := transport.New(cfg, log, opts.Clock)
	if err != nil {
		return nil, err
	}

	b := bus.New(log)
	cfgs := config.NewRuntime(cfg)
	threads := thread.NewManager(ws, cfg.Settings.ThreadLogPath)
	inboxes := inbox.NewStore(ws, cfg.Settings.InboxPath)
	xferLog := transfer.NewLog(ws)

	e := &Engine{
		cfg:      cfg,
		cfgs:     cfgs,
		ws:       ws,
		log:      log,
		bus:      b,
		feed:     bus.NewFeed(b, log),
		tr:       tr,
		sender:   sender.New(cfgs, tr, threads, inboxes, b, log, opts.Clock),
		threads:  threads,
		inboxes:  inboxes,
		xferLog:  xferLog,
		exporter: transfer.NewExporter(ws.Root(), cfg.Identity.Owner, cfg.Identity.InstanceID, cfg.Transport, xferLog),
		importer: transfer.NewImporter(ws.Root(), ws, xferLog),
		peers:    transfer.NewPeerCache(ws),
	}
	return e, nil
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() *config.Config { return e.cfgs.Current() }

// Send dispatches one outbound message.
func (e *Engine) Send(ctx context.Context, req sender.Request) (sender.Result, error) {
	return e.sender.Send(ctx, req)
}

// Reply sends a response into the thread an inbox entry belongs to.
func (e *Engine) Reply(ctx context.Context, worker, msgID, body, ack string) (sender.Result, error) {
	entry, err := e.inboxes.Get(worker, msgID)
	if err != nil {
		return sender.Result{}, fmt.Errorf("message %s not found in %s inbox: %w", msgID, worker, err)
	}
	return e.sender.Send(ctx, sender.Request{
		Worker:    worker,
		To:        entry.Message.From,
		Intent:    codec.IntentResponse,
		Body:      body,
		Thread:    entry.Message.Thread,
		ReplyTo:   msgID,
		Ack:       ack,
		ChannelID: entry.ChannelID,
	})
}

// Inbox lists a worker's received messages.
func (e *Engine) Inbox(worker string, includeRead bool) ([]inbox.Entry, error) {
	return e.inboxes.List(worker, includeRead)
}

// InboxWorkers lists workers with at least one received message.
func (e *Engine) InboxWorkers() ([]string, error) {
	return e.inboxes.Workers()
}

// Thread loads one thread's log.
func (e *Engine) Thread(threadID string) (*thread.State, error) {
	if !ident.ValidThreadID(threadID) {
		return nil, fmt.Errorf("invalid thread id %q", threadID)
	}
	return e.threads.Load(threadID)
}

// ExportKnowledge builds a knowledge bundle.
func (e *Engine) ExportKnowledge(req transfer.KnowledgeRequest) (*transfer.Summary, error) {
	return e.exporter.ExportKnowledge(req)
}

// ExportPattern builds a worker-pattern bundle.
func (e *Engine) ExportPattern(req transfer.PatternRequest) (*transfer.Summary, error) {
	return e.exporter.ExportPattern(req)
}

// PreviewBundle inspects an inbound bundle without staging it.
func (e *Engine) PreviewBundle(bundleDir string) (*transfer.Preview, error) {
	return e.importer.PreviewBundle(bundleDir)
}

// StageBundle approves a bundle into the world inbox. A bundle that fails
// verification is quarantined instead and the verification result returned
// with the error.
func (e *Engine) StageBundle(bundleDir, approvedBy string) (string, error) {
	p, err := e.importer.PreviewBundle(bundleDir)
	if err != nil {
		return "", err
	}
	if !p.Verification.Valid {
		dst, qErr := e.importer.Quarantine(bundleDir, p.Verification)
		if qErr != nil {
			return "", qErr
		}
		return dst, fmt.Errorf("bundle failed verification and was quarantined at %s", dst)
	}
	staged, err := e.importer.Stage(bundleDir, approvedBy)
	if err != nil {
		return "", err
	}
	e.bus.Publish(bus.EventTransferStaged, map[string]interface{}{
		"transfer-id": p.Envelope.ID,
		"peer":        p.Envelope.From,
		"staged-to":   staged,
	})
	return staged, nil
}

// RejectBundle records a rejection without staging anything.
func (e *Engine) RejectBundle(bundleDir, reason string) error {
	return e.importer.Reject(bundleDir, reason)
}

// PeerManifest returns the cached capability manifest for a peer, if any.
func (e *Engine) PeerManifest(peer string) (*transfer.PeerManifest, error) {
	return e.peers.Get(peer)
}

// Subscribe registers a bus handler for the given event types (all when
// empty) and returns the subscription id.
func (e *Engine) Subscribe(handler bus.Handler, types ...string) int {
	return e.bus.Subscribe(handler, types...)
}

// Unsubscribe removes a bus handler.
func (e *Engine) Unsubscribe(id int) {
	e.bus.Unsubscribe(id)
}

// FeedHandler returns the WebSocket event feed endpoint.
func (e *Engine) FeedHandler() http.Handler {
	return e.feed.Handler()
}

// StartWatch begins receiving inbound messages and, when a config path is
// known, hot-reloads settings on file change. Safe to call once.
func (e *Engine) StartWatch(configPath string) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watching {
		return nil
	}

	if err := e.tr.Watch(e.sender.HandleIncoming); err != nil {
		return fmt.Errorf("failed to start transport watch: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	if configPath != "" {
		reloads, err := config.Watch(ctx, e.log, configPath)
		if err != nil {
			e.log.Warn("config hot-reload unavailable", "error", err)
		} else {
			go e.reloadLoop(ctx, configPath, reloads)
		}
	}
	e.watching = true
	return nil
}

// reloadLoop swaps in a changed config file as a whole new snapshot; readers
// pick it up on their next operation. Identity and transport are fixed for
// the life of the process; a change there is logged and skipped.
func (e *Engine) reloadLoop(ctx context.Context, path string, reloads <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reloads:
			fresh, err := config.Load(path)
			if err != nil {
				e.log.Warn("ignoring invalid config on reload", "error", err)
				continue
			}
			if fresh.Identity != e.cfg.Identity || fresh.Transport != e.cfg.Transport {
				e.log.Warn("identity and transport changes require a restart; reload skipped")
				continue
			}
			e.cfgs.Swap(fresh)
			e.log.Info("config reloaded", "path", path)
			e.bus.Publish(bus.EventConfigReloaded, map[string]interface{}{"path": path})
		}
	}
}

// Close stops watching and shuts down the event feed.
func (e *Engine) Close() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watching {
		e.tr.Unwatch()
		if e.cancel != nil {
			e.cancel()
		}
		e.watching = false
	}
	e.feed.Close()
}
