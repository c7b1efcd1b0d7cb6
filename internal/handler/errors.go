package handler

import (
	"context"
	"errors"

	"github.com/mcpanvil/core/internal/backend"
	"github.com/mcpanvil/core/internal/protocol"
)

// mapBackendError converts a backend-returned error into a protocol error
// at the handler boundary (spec §7: "the handler converts backend errors
// to protocol errors at its boundary; never panics"). The message is
// always one of the fixed texts below (timeout, not supported, or the
// generic internal error) — backend error strings may contain
// implementation details and are never forwarded verbatim.
func mapBackendError(err error) *protocol.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.InternalError("internal error: timeout")
	case errors.Is(err, backend.ErrNotSupported):
		return protocol.NewError(protocol.CodeMethodNotFound, "operation not supported by this backend")
	default:
		return protocol.InternalError("internal error")
	}
}
