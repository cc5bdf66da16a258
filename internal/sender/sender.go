// Package sender enforces the outbound policy and delivers composed messages
// through the configured transport.
//
// Preflight order is fixed: kill switch, disabled flag, from resolution,
// address validation, worker permission, channel selection. The first
// violated rule in that order names the failure code regardless of how many
// rules a request violates.
package sender

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hiamp/hq/internal/bus"
	"github.com/hiamp/hq/internal/codec"
	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/inbox"
	"github.com/hiamp/hq/internal/thread"
	"github.com/hiamp/hq/internal/transport"
)

const sendTimeout = 30 * time.Second

// Request is one outbound send.
type Request struct {
	From        string // full address; derived from Worker when empty
	Worker      string // local worker id
	To          string
	Intent      string
	Body        string
	Thread      string
	ReplyTo     string
	Priority    string
	Ack         string
	Context     string
	Ref         string
	ChannelID   string // explicit endpoint, skips resolution
	Attachments []Attachment
}

// Attachment is an inline file shared with a message. Content rides in the
// message body below a per-file marker line.
type Attachment struct {
	Name    string
	Content string
}

// Result reports a delivered message.
type Result struct {
	MessageID   string
	ChannelID   string
	Thread      string
	MessageText string
}

// Sender owns the thread-to-channel memo and the outbound pipeline.
type Sender struct {
	cfgs    *config.Runtime
	tr      transport.Transport
	threads *thread.Manager
	inboxes *inbox.Store
	bus     *bus.Bus
	log     *slog.Logger
	clock   clockwork.Clock

	// memoMu guards only the maps below; it is never held across transport
	// I/O. threadMu serializes dispatch within one thread.
	memoMu         sync.Mutex
	threadChannels map[string]string // thread id -> channel id
	threadRefs     map[string]string // thread id -> transport thread ref
	threadLocks    map[string]*sync.Mutex
}

// New creates a sender. Policy reads go through cfgs so a config hot reload
// takes effect on the next call without racing an in-flight one.
func New(cfgs *config.Runtime, tr transport.Transport, threads *thread.Manager, inboxes *inbox.Store, b *bus.Bus, log *slog.Logger, clock clockwork.Clock) *Sender {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sender{
		cfgs:           cfgs,
		tr:             tr,
		threads:        threads,
		inboxes:        inboxes,
		bus:            b,
		log:            log,
		clock:          clock,
		threadChannels: make(map[string]string),
		threadRefs:     make(map[string]string),
		threadLocks:    make(map[string]*sync.Mutex),
	}
}

// Send runs the preflight checks, composes the envelope and dispatches it.
// The config snapshot is loaded once up front so one request is judged
// against one consistent policy.
func (s *Sender) Send(ctx context.Context, req Request) (Result, error) {
	cfg := s.cfgs.Current()

	// 1. Kill switch.
	if cfg.Security.KillSwitch {
		return Result{}, fault.New(fault.CodeKillSwitch, "outbound messaging is disabled by the kill switch")
	}
	// 2. Disabled.
	if !cfg.Settings.IsEnabled() {
		return Result{}, fault.New(fault.CodeDisabled, "outbound messaging is disabled in settings")
	}

	// 3. From resolution.
	from := req.From
	worker := req.Worker
	if from == "" {
		if worker == "" {
			return Result{}, fault.New(fault.CodeInvalidMessage, "neither from nor worker was supplied")
		}
		from = cfg.Identity.Owner + "/" + worker
	} else if worker == "" {
		if addr, err := ident.ParseAddress(from); err == nil {
			worker = addr.Worker
		}
	}
	if !ident.ValidAddress(from) {
		return Result{}, fault.Newf(fault.CodeInvalidMessage, "invalid from address %q", from)
	}

	// 4. Address validation: the target peer and its worker must be known.
	target, err := ident.ParseAddress(req.To)
	if err != nil {
		return Result{}, fault.Wrap(fault.CodeInvalidMessage, "invalid to address", err)
	}
	peer, ok := cfg.PeerByOwner(target.Owner)
	if !ok {
		return Result{}, fault.Newf(fault.CodeInvalidMessage, "unknown peer %q", target.Owner)
	}
	if !peer.HasWorker(target.Worker) {
		return Result{}, fault.Newf(fault.CodeInvalidMessage, "peer %q has no worker %q", target.Owner, target.Worker)
	}

	// 5. Worker permission.
	if err := checkPermission(cfg.WorkerPermissions, worker, req.Intent, target.Owner); err != nil {
		return Result{}, err
	}

	threadID := req.Thread
	if threadID == "" {
		threadID = ident.NewThreadID()
	}

	// Serialize sends within one thread so message order equals dispatch
	// order; independent threads interleave freely.
	lock := s.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	// 6. Channel selection.
	channelID, threadRef, err := s.selectChannel(ctx, req, threadID, target.Owner)
	if err != nil {
		return Result{}, err
	}

	// 7. Compose.
	body := req.Body
	if cfg.Settings.MessageMaxLength > 0 && len(body) > cfg.Settings.MessageMaxLength {
		return Result{}, fault.Newf(fault.CodeInvalidMessage, "body exceeds %d bytes", cfg.Settings.MessageMaxLength)
	}
	for _, att := range req.Attachments {
		if cfg.Settings.AttachmentMaxLength > 0 && len(att.Content) > cfg.Settings.AttachmentMaxLength {
			return Result{}, fault.Newf(fault.CodeInvalidMessage, "attachment %s exceeds %d bytes", att.Name, cfg.Settings.AttachmentMaxLength)
		}
		body += "\n\n--- " + att.Name + " ---\n" + att.Content
	}
	msg := codec.Message{
		Version:  codec.Version,
		ID:       ident.NewMessageID(),
		From:     from,
		To:       req.To,
		Intent:   req.Intent,
		Body:     body,
		Thread:   threadID,
		ReplyTo:  req.ReplyTo,
		Priority: req.Priority,
		Ack:      req.Ack,
		Context:  req.Context,
		Ref:      req.Ref,
	}
	text, err := codec.Compose(msg)
	if err != nil {
		return Result{}, err
	}

	// 8. Dispatch, retrying only rate-limited failures.
	result, err := s.dispatch(ctx, channelID, threadRef, text, cfg.Settings.MaxRetries)
	if err != nil {
		return Result{}, err
	}

	// 9. Record the thread binding for subsequent replies.
	s.memoMu.Lock()
	s.threadChannels[threadID] = channelID
	if result.ThreadRef != "" {
		s.threadRefs[threadID] = result.ThreadRef
	}
	s.memoMu.Unlock()

	// Thread log.
	if _, err := s.threads.Append(threadID, thread.Entry{
		ID:      msg.ID,
		From:    msg.From,
		To:      msg.To,
		Intent:  msg.Intent,
		Body:    msg.Body,
		ReplyTo: msg.ReplyTo,
	}); err != nil {
		s.log.Warn("failed to append to thread log", "thread", threadID, "error", err)
	}

	// 10. Event.
	s.bus.Publish(bus.EventMessageSent, map[string]interface{}{
		"message-id": msg.ID,
		"thread":     threadID,
		"channel-id": channelID,
		"to":         req.To,
		"intent":     req.Intent,
	})

	return Result{MessageID: msg.ID, ChannelID: channelID, Thread: threadID, MessageText: text}, nil
}

// checkPermission applies the worker permission matrix.
func checkPermission(perms config.WorkerPermissions, worker, intent, targetPeer string) error {
	entry, listed := perms.Worker(worker)

	if perms.Default == "deny" {
		if !listed || !entry.Send {
			return fault.Newf(fault.CodePermissionDenied, "worker %q has no send permission", worker)
		}
	} else if listed && !entry.Send {
		return fault.Newf(fault.CodePermissionDenied, "worker %q has no send permission", worker)
	}

	if listed && len(entry.AllowedIntents) > 0 && !contains(entry.AllowedIntents, intent) {
		return fault.Newf(fault.CodePermissionDenied, "worker %q may not send intent %q", worker, intent)
	}
	if listed && len(entry.AllowedPeers) > 0 && !contains(entry.AllowedPeers, targetPeer) && !contains(entry.AllowedPeers, "*") {
		return fault.Newf(fault.CodePermissionDenied, "worker %q may not address peer %q", worker, targetPeer)
	}
	return nil
}

// selectChannel picks the endpoint: explicit channel id, then the thread
// memo, then the resolver.
func (s *Sender) selectChannel(ctx context.Context, req Request, threadID, targetPeer string) (channelID, threadRef string, err error) {
	s.memoMu.Lock()
	memoChannel, haveChannel := s.threadChannels[threadID]
	memoRef := s.threadRefs[threadID]
	s.memoMu.Unlock()

	if req.ChannelID != "" {
		ep, err := s.tr.ResolveChannel(ctx, targetPeer, "", req.ChannelID)
		if err != nil {
			return "", "", err
		}
		return ep.ChannelID, memoRef, nil
	}
	if haveChannel {
		return memoChannel, memoRef, nil
	}

	contextTag := req.Context
	if contextTag == "" {
		contextTag = req.Ref
	}
	ep, err := s.tr.ResolveChannel(ctx, targetPeer, contextTag, "")
	if err != nil {
		if fault.CodeOf(err) != "" {
			return "", "", err
		}
		return "", "", fault.Wrap(fault.CodeChannelResolveFailed, "channel resolution failed", err)
	}
	return ep.ChannelID, "", nil
}

// dispatch posts the text, replying in-thread when a thread ref is known.
func (s *Sender) dispatch(ctx context.Context, channelID, threadRef, text string, maxRetries int) (transport.SendResult, error) {
	var result transport.SendResult

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		var err error
		if threadRef != "" {
			result, err = s.tr.SendReply(callCtx, threadRef, text)
		} else {
			result, err = s.tr.Send(callCtx, channelID, text)
		}
		return err
	}

	err := attempt()
	retries := 0
	backoff := newBackoff(s.clock)
	for err != nil && fault.IsCode(err, fault.CodeRateLimited) && retries < maxRetries {
		if waitErr := backoff.wait(ctx); waitErr != nil {
			return result, fault.Wrap(fault.CodeTransportError, "send cancelled during backoff", waitErr)
		}
		retries++
		err = attempt()
	}
	if err != nil {
		if fault.CodeOf(err) != "" {
			return result, err
		}
		return result, fault.Wrap(fault.CodeTransportError, "transport dispatch failed", err)
	}
	return result, nil
}

func (s *Sender) threadLock(threadID string) *sync.Mutex {
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	lock, ok := s.threadLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		s.threadLocks[threadID] = lock
	}
	return lock
}

// ThreadChannel returns the recorded channel binding for a thread.
func (s *Sender) ThreadChannel(threadID string) (string, bool) {
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	id, ok := s.threadChannels[threadID]
	return id, ok
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
