package sender

import (
	"context"
	"time"

	"github.com/hiamp/hq/internal/bus"
	"github.com/hiamp/hq/internal/codec"
	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/inbox"
	"github.com/hiamp/hq/internal/thread"
	"github.com/hiamp/hq/internal/transport"
)

// HandleIncoming is the transport watch callback: it records the inbound
// message and emits an auto-ack when the sender asked for one.
//
// The anti-loop rule: acknowledge- and error-intent messages are never
// acked, which breaks the only cycle the reply graph can form.
func (s *Sender) HandleIncoming(inc transport.Incoming) {
	cfg := s.cfgs.Current()

	msg, err := codec.Parse(inc.Text)
	if err != nil {
		s.log.Warn("discarding unparseable inbound message", "error", err)
		return
	}

	to, err := ident.ParseAddress(msg.To)
	if err != nil || to.Owner != cfg.Identity.Owner {
		// Addressed to someone else sharing the channel.
		return
	}

	// Receive policy.
	if !mayReceive(cfg.WorkerPermissions, to.Worker) {
		s.nack(msg, inc, "worker "+to.Worker+" does not accept inbound messages")
		return
	}

	// Thread log. A message without a thread id still lands in the inbox but
	// has no thread to append to.
	if msg.Thread != "" {
		if _, err := s.threads.Append(msg.Thread, thread.Entry{
			ID:      msg.ID,
			From:    msg.From,
			To:      msg.To,
			Intent:  msg.Intent,
			Body:    msg.Body,
			ReplyTo: msg.ReplyTo,
		}); err != nil {
			s.log.Warn("failed to append inbound message to thread", "thread", msg.Thread, "error", err)
		} else {
			s.bus.Publish(bus.EventThreadUpdated, map[string]interface{}{
				"thread":     msg.Thread,
				"message-id": msg.ID,
			})
		}
		s.memoMu.Lock()
		if _, ok := s.threadChannels[msg.Thread]; !ok && inc.ChannelID != "" {
			s.threadChannels[msg.Thread] = inc.ChannelID
		}
		if _, ok := s.threadRefs[msg.Thread]; !ok && inc.ThreadRef != "" {
			s.threadRefs[msg.Thread] = inc.ThreadRef
		}
		s.memoMu.Unlock()
	}

	duplicate, err := s.inboxes.Add(to.Worker, inbox.Entry{
		Message:   msg,
		Raw:       inc.Text,
		ChannelID: inc.ChannelID,
		ThreadRef: inc.ThreadRef,
	})
	if err != nil {
		s.log.Error("failed to persist inbox entry", "message-id", msg.ID, "error", err)
		return
	}

	data := map[string]interface{}{
		"message-id": msg.ID,
		"worker":     to.Worker,
		"from":       msg.From,
		"intent":     msg.Intent,
	}
	if duplicate {
		// Open question resolution: a repeated id is an update, and the
		// operator gets an event to investigate.
		data["duplicate"] = true
	}
	s.bus.Publish(bus.EventMessageReceived, data)

	if msg.Ack == codec.AckRequested && msg.Intent != codec.IntentAcknowledge && msg.Intent != codec.IntentError {
		s.autoAck(msg, inc)
	}
}

func mayReceive(perms config.WorkerPermissions, worker string) bool {
	entry, listed := perms.Worker(worker)
	if perms.Default == "deny" {
		return listed && entry.Receive
	}
	return !listed || entry.Receive
}

// autoAck replies in-thread with an acknowledge-intent message. Acks are
// never retried.
func (s *Sender) autoAck(msg codec.Message, inc transport.Incoming) {
	ack := codec.Message{
		Version: codec.Version,
		ID:      ident.NewMessageID(),
		From:    msg.To,
		To:      msg.From,
		Intent:  codec.IntentAcknowledge,
		Body:    "Acknowledged.",
		Thread:  msg.Thread,
		ReplyTo: msg.ID,
		Ack:     codec.AckNone,
	}
	if s.deliverReply(ack, inc) {
		s.bus.Publish(bus.EventAckEmitted, map[string]interface{}{
			"message-id": ack.ID,
			"reply-to":   msg.ID,
			"thread":     msg.Thread,
		})
	}
}

// nack replies with an error-intent message carrying the rejection reason.
func (s *Sender) nack(msg codec.Message, inc transport.Incoming, reason string) {
	reply := codec.Message{
		Version: codec.Version,
		ID:      ident.NewMessageID(),
		From:    msg.To,
		To:      msg.From,
		Intent:  codec.IntentError,
		Body:    reason,
		Thread:  msg.Thread,
		ReplyTo: msg.ID,
		Ack:     codec.AckNone,
	}
	s.deliverReply(reply, inc)
}

func (s *Sender) deliverReply(reply codec.Message, inc transport.Incoming) bool {
	text, err := codec.Compose(reply)
	if err != nil {
		s.log.Error("failed to compose reply", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if _, err := s.tr.SendReply(ctx, inc.ThreadRef, text); err != nil {
		s.log.Warn("failed to deliver reply", "thread-ref", inc.ThreadRef, "error", err)
		return false
	}

	if reply.Thread != "" {
		if _, err := s.threads.Append(reply.Thread, thread.Entry{
			ID:        reply.ID,
			From:      reply.From,
			To:        reply.To,
			Intent:    reply.Intent,
			Body:      reply.Body,
			ReplyTo:   reply.ReplyTo,
			Timestamp: ident.Timestamp(time.Now()),
		}); err != nil {
			s.log.Warn("failed to append reply to thread", "thread", reply.Thread, "error", err)
		}
	}
	return true
}
