// Package codec implements the HIAMP envelope text format: composing a typed
// message into the human-readable wire text and parsing it back.
//
// The wire shape is a short header, the free-text body, a horizontal rule and
// a single metadata trailer line:
//
//	stefan/architect → alex/backend-dev
//
//	The API contract is ready.
//
//	───────────────
//	hq-msg:v1 | id:msg-a1b2c3d4 | from:stefan/architect | to:alex/backend-dev | intent:handoff
//
// Only the trailer is authoritative; the header exists for humans reading the
// channel directly.
package codec

import (
	"strings"

	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/ident"
)

// Version is the only protocol version this engine speaks.
const Version = "v1"

// Intents.
const (
	IntentHandoff     = "handoff"
	IntentRequest     = "request"
	IntentInform      = "inform"
	IntentAcknowledge = "acknowledge"
	IntentQuery       = "query"
	IntentResponse    = "response"
	IntentError       = "error"
	IntentShare       = "share"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Ack modes.
const (
	AckNone      = "none"
	AckOptional  = "optional"
	AckRequested = "requested"
)

// Separator is the 15-unit horizontal rule between body and trailer.
var Separator = strings.Repeat("─", 15)

const trailerPrefix = "hq-msg:"

var validIntents = map[string]bool{
	IntentHandoff: true, IntentRequest: true, IntentInform: true,
	IntentAcknowledge: true, IntentQuery: true, IntentResponse: true,
	IntentError: true, IntentShare: true,
}

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityNormal: true, PriorityHigh: true, PriorityUrgent: true,
}

var validAcks = map[string]bool{
	AckNone: true, AckOptional: true, AckRequested: true,
}

// ValidIntent reports whether s is a member of the intent enum.
func ValidIntent(s string) bool { return validIntents[s] }

// Message is the typed HIAMP message. Optional fields are empty strings when
// absent.
type Message struct {
	Version  string `yaml:"version" json:"version"`
	ID       string `yaml:"id" json:"id"`
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
	Intent   string `yaml:"intent" json:"intent"`
	Body     string `yaml:"body" json:"body"`
	Thread   string `yaml:"thread,omitempty" json:"thread,omitempty"`
	ReplyTo  string `yaml:"reply-to,omitempty" json:"reply_to,omitempty"`
	Priority string `yaml:"priority,omitempty" json:"priority,omitempty"`
	Ack      string `yaml:"ack,omitempty" json:"ack,omitempty"`
	Context  string `yaml:"context,omitempty" json:"context,omitempty"`
	Ref      string `yaml:"ref,omitempty" json:"ref,omitempty"`
}

// Validate checks identifier grammar and enum membership.
func (m Message) Validate() error {
	if m.Version != Version {
		return fault.Newf(fault.CodeUnknownVersion, "unsupported protocol version %q", m.Version)
	}
	if !ident.ValidMessageID(m.ID) {
		return fault.Newf(fault.CodeBadID, "invalid message id %q", m.ID)
	}
	if !ident.ValidAddress(m.From) {
		return fault.Newf(fault.CodeBadAddress, "invalid from address %q", m.From)
	}
	if !ident.ValidAddress(m.To) {
		return fault.Newf(fault.CodeBadAddress, "invalid to address %q", m.To)
	}
	if !validIntents[m.Intent] {
		return fault.Newf(fault.CodeBadIntent, "unknown intent %q", m.Intent)
	}
	if m.Thread != "" && !ident.ValidThreadID(m.Thread) {
		return fault.Newf(fault.CodeBadID, "invalid thread id %q", m.Thread)
	}
	if m.ReplyTo != "" && !ident.ValidMessageID(m.ReplyTo) {
		return fault.Newf(fault.CodeBadID, "invalid reply-to id %q", m.ReplyTo)
	}
	if m.Priority != "" && !validPriorities[m.Priority] {
		return fault.Newf(fault.CodeInvalidEnvelope, "unknown priority %q", m.Priority)
	}
	if m.Ack != "" && !validAcks[m.Ack] {
		return fault.Newf(fault.CodeInvalidEnvelope, "unknown ack mode %q", m.Ack)
	}
	return nil
}

// Compose renders the message deterministically. Optional tokens appear in
// the normative order: thread, reply-to, priority, ack, context, ref.
func Compose(m Message) (string, error) {
	if m.Version == "" {
		m.Version = Version
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(m.From)
	b.WriteString(" → ")
	b.WriteString(m.To)
	b.WriteString("\n\n")
	b.WriteString(m.Body)
	b.WriteString("\n\n")
	b.WriteString(Separator)
	b.WriteString("\n")

	tokens := []string{
		trailerPrefix + m.Version,
		"id:" + m.ID,
		"from:" + m.From,
		"to:" + m.To,
		"intent:" + m.Intent,
	}
	for _, opt := range []struct{ key, val string }{
		{"thread", m.Thread},
		{"reply-to", m.ReplyTo},
		{"priority", m.Priority},
		{"ack", m.Ack},
		{"context", m.Context},
		{"ref", m.Ref},
	} {
		if opt.val != "" {
			tokens = append(tokens, opt.key+":"+opt.val)
		}
	}
	b.WriteString(strings.Join(tokens, " | "))
	b.WriteString("\n")
	return b.String(), nil
}

// Parse extracts a message from envelope-bearing text. Trailer tokens are
// accepted in any order; values may contain colons.
func Parse(text string) (Message, error) {
	lines := strings.Split(text, "\n")

	trailerIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], trailerPrefix) {
			trailerIdx = i
			break
		}
	}
	if trailerIdx < 0 {
		return Message{}, fault.New(fault.CodeInvalidEnvelope, "no hq-msg trailer found")
	}

	var m Message
	for i, token := range strings.Split(lines[trailerIdx], " | ") {
		if i == 0 {
			m.Version = strings.TrimPrefix(token, trailerPrefix)
			continue
		}
		key, value, ok := strings.Cut(token, ":")
		if !ok {
			return Message{}, fault.Newf(fault.CodeInvalidEnvelope, "malformed trailer token %q", token)
		}
		switch key {
		case "id":
			m.ID = value
		case "from":
			m.From = value
		case "to":
			m.To = value
		case "intent":
			m.Intent = value
		case "thread":
			m.Thread = value
		case "reply-to":
			m.ReplyTo = value
		case "priority":
			m.Priority = value
		case "ack":
			m.Ack = value
		case "context":
			m.Context = value
		case "ref":
			m.Ref = value
		default:
			// Unknown tokens are ignored for forward compatibility.
		}
	}

	m.Body = extractBody(lines[:trailerIdx])

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// IsEnvelope reports whether text carries a HIAMP trailer at all, without
// validating it.
func IsEnvelope(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, trailerPrefix) {
			return true
		}
	}
	return false
}

// extractBody returns the body from the lines preceding the trailer: the
// separator rule, the informational header line and any chat text preceding
// the header are dropped, as are the blank lines compose inserts around the
// body.
func extractBody(lines []string) string {
	// Drop the separator line and anything after it.
	sep := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		if isSeparator(lines[i]) {
			sep = i
			break
		}
	}
	body := lines[:sep]

	// Drop everything through the informational header. The header is the
	// first "from → to" line whose sides are both valid addresses; lines
	// before it are surrounding chat noise, not body.
	for i, line := range body {
		if isHeader(line) {
			body = body[i+1:]
			break
		}
	}
	for len(body) > 0 && body[0] == "" {
		body = body[1:]
	}
	for len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}
	return strings.Join(body, "\n")
}

func isHeader(line string) bool {
	from, to, ok := strings.Cut(strings.TrimSpace(line), " → ")
	return ok && ident.ValidAddress(from) && ident.ValidAddress(to)
}

func isSeparator(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if r != '─' {
			return false
		}
	}
	return true
}
