// Package transport implements the §6 "consumed" request/response/
// data_channel contract: a request carries a payload and session/service
// identity, a response accepts a status code and an optional diagnostics
// record plus a channel for streamed rows, and cancellation is a
// non-blocking poll rather than a callback. Per the transport-shape Open
// Question decision in DESIGN.md, this module does not generate a gRPC
// service from a .proto file - no component in this engine needs a wire
// format beyond what pkg/record's tagged stream already defines, and
// spec.md scopes the physical transport out. `google.golang.org/grpc` and
// `google.golang.org/protobuf` are still exercised, through the narrow
// health-check surface in health.go, the same way a gRPC server is
// typically wired alongside its own service registrations.
package transport

import (
	"github.com/project-tsurugi/sqlengine/pkg/errs"
)

// SessionID identifies the client session a request arrived on;
// ServiceID identifies which SQL service (execute, describe, dump) the
// request targets (spec §6 "session/service IDs").
type SessionID string
type ServiceID string

// Request is the transport-level envelope the engine orchestrator
// consumes: an opaque payload the caller decodes into a compiled plan,
// plus enough identity to attribute the work and to poll for
// cancellation (spec §6, §5 "Cancellation & timeouts").
type Request struct {
	Session SessionID
	Service ServiceID
	Payload []byte
}

// CancelChecker polls whether this request's caller has asked to cancel.
// Implementations must be non-blocking (spec §6: "a non-blocking
// check_cancel call").
type CancelChecker interface {
	CheckCancel() bool
}

// StatusCode is the small set of outcomes a Response communicates beyond
// the detailed error info carried in Diagnostics (spec §6).
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusError
	StatusCancelled
)

// Diagnostics carries the structured error a failed request reports back
// to the caller (spec §7: "the client receives the structured error info
// (code, message) via the response diagnostics").
type Diagnostics struct {
	Code    errs.Code
	Message string
}

// DataWriter accepts already-encoded row bytes for one stream acquired
// from a Response's channel, and an explicit Commit that flushes and
// closes it (spec §6: "the channel acquires writers each of which
// accepts (bytes, length) + commit"). This is the same shape
// pkg/channel.DataWriter declares; transport and channel are kept as
// separate packages so pkg/channel has no dependency on the wire layer,
// but any transport.DataWriter satisfies pkg/channel.DataWriter as-is.
type DataWriter interface {
	Write(data []byte) error
	Commit() error
}

// ChannelAcquirer opens a fresh DataWriter for one result-set writer
// (spec §6's channel "acquires writers"). A Response exposes this rather
// than a single writer because a query can open both an unordered
// per-partition writer and one ordered writer (spec §4.I).
type ChannelAcquirer interface {
	Acquire() (DataWriter, error)
}

// Response is what the orchestrator completes a request with: a body
// (e.g. a describe result, or empty for a streamed execute), the
// outcome status, diagnostics when Status != StatusOK, and the channel
// acquirer the operator tree's Emit step writes rows through.
type Response struct {
	Body        []byte
	Status      StatusCode
	Diagnostics *Diagnostics
	Channel     ChannelAcquirer
}

// NewErrorResponse builds a Response reporting a request's recorded
// error (spec §7: "completes with the recorded error").
func NewErrorResponse(info *errs.Info) *Response {
	status := StatusError
	if info.Code == errs.UserRollback {
		status = StatusCancelled
	}
	return &Response{
		Status: status,
		Diagnostics: &Diagnostics{
			Code:    info.Code,
			Message: info.Message,
		},
	}
}
