// Package stdio implements the line-delimited JSON-RPC transport (spec
// §4.9): read one line, parse, dispatch, write one line, shutdown on EOF.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/mcpanvil/core/internal/handler"
	"github.com/mcpanvil/core/internal/middleware"
	"github.com/mcpanvil/core/internal/protocol"
)

// maxLineBytes bounds a single incoming line, mirroring the scanner buffer
// sizing the teacher's line-oriented proxy loop uses for large MCP payloads.
const maxLineBytes = 1 << 20

// Transport serves one handler.Handler over a pair of io.Reader/io.Writer,
// typically os.Stdin/os.Stdout. A stdio connection is long-lived for the
// whole process, so one handler.Connection tracks its handshake state for
// the transport's entire run.
type Transport struct {
	h      *handler.Handler
	logger *slog.Logger

	writeMu sync.Mutex
}

// New builds a Transport serving h.
func New(h *handler.Handler, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{h: h, logger: logger}
}

// Run reads newline-delimited JSON-RPC messages from in, dispatches them,
// and writes newline-delimited responses to out. It returns nil on a clean
// EOF and the underlying error otherwise; it also returns when ctx is
// cancelled.
func (t *Transport) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	conn := handler.NewConnection()
	defer conn.Close()

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 256*1024)
	scanner.Buffer(buf, maxLineBytes)

	lines := make(chan []byte)
	scanErrCh := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErrCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErrCh
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			t.handleLine(ctx, conn, line, out)
		}
	}
}

// handleLine parses and dispatches one line, writing exactly one response
// line unless the message was a notification. Parse failures use a null
// id per spec §4.9 ("parse-level failures use id: null").
func (t *Transport) handleLine(ctx context.Context, conn *handler.Connection, line []byte, out io.Writer) {
	parsed, perr := protocol.Parse(line)
	if perr != nil {
		t.writeResponse(out, &protocol.Response{JSONRPC: "2.0", ID: protocol.NullID(), Error: perr})
		return
	}

	if parsed.Single != nil {
		rc := &middleware.RequestContext{Request: parsed.Single, RawSize: len(line), ClientIP: "local"}
		resp := t.h.HandleRequest(ctx, conn, rc)
		if resp != nil {
			t.writeResponse(out, resp)
		}
		return
	}

	responses := t.h.HandleBatch(ctx, conn, parsed.Batch, "local", nil)
	if len(responses) == 0 {
		return
	}
	t.writeLine(out, responses)
}

func (t *Transport) writeResponse(out io.Writer, resp *protocol.Response) {
	t.writeLine(out, resp)
}

// writeLine marshals v (a single *protocol.Response or a batch array of
// them) to one line, matching the wire shape it was parsed from.
func (t *Transport) writeLine(out io.Writer, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		t.logger.Error("failed to marshal response", "error", err)
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, _ = out.Write(raw)
	_, _ = out.Write([]byte("\n"))
}
