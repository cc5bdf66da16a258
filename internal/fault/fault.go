// Package fault provides the tagged failure values used across the engine.
//
// Every operation that can fail in a way the operator or a peer needs to
// distinguish returns a *Fault carrying one of the stable codes below. Plain
// wrapped errors are reserved for conditions the caller cannot act on.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are stable strings; they appear in
// CLI output, transfer log entries and error replies.
type Code string

// Validation failures.
const (
	CodeInvalidMessage  Code = "INVALID_MESSAGE"
	CodeBadAddress      Code = "BAD_ADDRESS"
	CodeBadIntent       Code = "BAD_INTENT"
	CodeBadID           Code = "BAD_ID"
	CodeInvalidEnvelope Code = "INVALID_ENVELOPE"
	CodeUnknownVersion  Code = "UNKNOWN_VERSION"
)

// Policy failures.
const (
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeKillSwitch       Code = "KILL_SWITCH"
	CodeDisabled         Code = "DISABLED"
)

// Channel resolution failures.
const (
	CodeChannelResolveFailed Code = "CHANNEL_RESOLVE_FAILED"
	CodeIssueNotFound        Code = "ISSUE_NOT_FOUND"
	CodeUnknownTeam          Code = "UNKNOWN_TEAM"
	CodeNoContextMatch       Code = "NO_CONTEXT_MATCH"
	CodeIssueCreateFailed    Code = "ISSUE_CREATE_FAILED"
)

// Transport failures.
const (
	CodeTransportError Code = "TRANSPORT_ERROR"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeAPIError       Code = "API_ERROR"
	CodeNetworkError   Code = "NETWORK_ERROR"
)

// Transfer failures.
const (
	CodeExportIO          Code = "EXPORT_IO_ERROR"
	CodeTransferIntegrity Code = "ERR_TXFR_INTEGRITY"
	CodeTransferManifest  Code = "ERR_TXFR_MANIFEST"
	CodeTransferConflict  Code = "ERR_TXFR_CONFLICT"
	CodeTransferStageIO   Code = "ERR_TXFR_STAGE_IO"
)

// Config failures.
const (
	CodeConfigMissing    Code = "CONFIG_MISSING"
	CodeConfigParse      Code = "CONFIG_PARSE_ERROR"
	CodeConfigValidation Code = "CONFIG_VALIDATION"
)

// Fault is a failure with a stable code and a human-readable message.
type Fault struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s [%s]: %s", f.Message, f.Code, f.Detail)
	}
	return fmt.Sprintf("%s [%s]", f.Message, f.Code)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a fault with the given code and message.
func New(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Newf creates a fault with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The underlying
// error text becomes the detail so CLI output stays one line.
func Wrap(code Code, message string, err error) *Fault {
	f := &Fault{Code: code, Message: message, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}
	return f
}

// CodeOf extracts the code from an error chain, or "" if the chain carries no
// fault.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
