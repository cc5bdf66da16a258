// Package ident generates the identifiers used across the engine and
// validates the identifier grammar shared by messages, threads and transfers.
//
// All ids are random hex with a fixed domain prefix:
//
//	msg-a1b2c3d4        message id (8 hex)
//	thr-e5f6a7b8        thread id (8 hex)
//	txfr-0123456789ab   transfer id (12 hex)
//
// Uniqueness is per HQ; callers that persist an id keyed by filename check for
// an existing file and regenerate on collision.
package ident

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// TimeLayout is ISO-8601 UTC without sub-second precision.
	TimeLayout = "2006-01-02T15:04:05Z"
)

var (
	ownerRe      = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	addressRe    = regexp.MustCompile(`^[a-z0-9-]+/[a-z0-9-]+$`)
	messageIDRe  = regexp.MustCompile(`^msg-[a-z0-9]{8,}$`)
	threadIDRe   = regexp.MustCompile(`^thr-[a-z0-9]{8,}$`)
	transferIDRe = regexp.MustCompile(`^txfr-[a-z0-9]{12}$`)
)

func randomHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return "msg-" + randomHex(8)
}

// NewThreadID returns a fresh thread id.
func NewThreadID() string {
	return "thr-" + randomHex(8)
}

// NewTransferID returns a fresh transfer id.
func NewTransferID() string {
	return "txfr-" + randomHex(12)
}

// Timestamp formats t as ISO-8601 UTC with second precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Now returns the current time formatted per Timestamp.
func Now() string {
	return Timestamp(time.Now())
}

// ParseTimestamp parses a Timestamp-formatted string.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// ValidOwner reports whether s is a legal owner or instance name:
// lowercase kebab, 2-32 characters.
func ValidOwner(s string) bool {
	if len(s) < 2 || len(s) > 32 {
		return false
	}
	return ownerRe.MatchString(s)
}

// ValidMessageID reports whether s is a legal message id.
func ValidMessageID(s string) bool { return messageIDRe.MatchString(s) }

// ValidThreadID reports whether s is a legal thread id.
func ValidThreadID(s string) bool { return threadIDRe.MatchString(s) }

// ValidTransferID reports whether s is a legal transfer id.
func ValidTransferID(s string) bool { return transferIDRe.MatchString(s) }

// ValidAddress reports whether s is a legal worker address.
func ValidAddress(s string) bool { return addressRe.MatchString(s) }

// Address identifies a worker within an HQ, written "owner/worker".
type Address struct {
	Owner  string
	Worker string
}

// ParseAddress splits an "owner/worker" address.
func ParseAddress(s string) (Address, error) {
	if !addressRe.MatchString(s) {
		return Address{}, fmt.Errorf("invalid address %q: want owner/worker", s)
	}
	parts := strings.SplitN(s, "/", 2)
	return Address{Owner: parts[0], Worker: parts[1]}, nil
}

func (a Address) String() string {
	return a.Owner + "/" + a.Worker
}
