package lineartrack

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hiamp/hq/internal/transport"
)

const pollInterval = 15 * time.Second

// poller drives pull-based inbound delivery: the tracker has no push stream,
// so watched issues are polled for new envelope-bearing comments.
type poller struct {
	tracker *Tracker
	handler transport.Handler
	stop    chan struct{}

	mu     sync.Mutex
	issues map[string]bool // issue UUID -> watched
	seen   map[string]bool // comment id -> already delivered
}

// Watch starts polling the fallback issue plus any issue later registered via
// WatchIssue. The first sweep only records existing comments so old traffic
// is not replayed.
func (t *Tracker) Watch(handler transport.Handler) error {
	p := &poller{
		tracker: t,
		handler: handler,
		stop:    make(chan struct{}),
		issues:  make(map[string]bool),
		seen:    make(map[string]bool),
	}
	t.poller = p

	if ep, err := t.resolveFallback(context.Background()); err == nil {
		p.addIssue(ep.ChannelID)
	}

	go p.run()
	return nil
}

// Unwatch stops the poll loop.
func (t *Tracker) Unwatch() {
	if t.poller != nil {
		close(t.poller.stop)
		t.poller = nil
	}
}

// WatchIssue adds an issue to the poll set; the sender registers issues it
// has posted to so replies come back.
func (t *Tracker) WatchIssue(issueID string) {
	if t.poller != nil {
		t.poller.addIssue(issueID)
	}
}

func (p *poller) addIssue(issueID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issues[issueID] = true
}

func (p *poller) run() {
	p.sweep(true)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(false)
		}
	}
}

func (p *poller) sweep(initial bool) {
	p.mu.Lock()
	issues := make([]string, 0, len(p.issues))
	for id := range p.issues {
		issues = append(issues, id)
	}
	p.mu.Unlock()

	for _, issueID := range issues {
		ctx, cancel := context.WithTimeout(context.Background(), resolverTimeout)
		comments, err := p.tracker.listComments(ctx, issueID)
		cancel()
		if err != nil {
			p.tracker.log.Debug("poll failed", "issue", issueID, "error", err)
			continue
		}
		for _, c := range comments {
			p.mu.Lock()
			delivered := p.seen[c.ID]
			p.seen[c.ID] = true
			p.mu.Unlock()
			if delivered || initial {
				continue
			}
			if !strings.Contains(c.Body, "hq-msg:") {
				continue
			}
			p.handler(transport.Incoming{
				Text:      c.Body,
				ThreadRef: issueID,
				ChannelID: issueID,
			})
		}
	}
}
