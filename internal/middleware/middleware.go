// Package middleware implements the ordered, short-circuiting request
// pipeline applied ahead of (and around) dispatch (spec §4.6):
// security_validate → auth → monitoring_pre → dispatch → monitoring_post.
// Each stage may transform the RequestContext or produce an immediate
// error response; a non-nil error from any pre-stage skips the remaining
// stages and dispatch entirely.
package middleware

import (
	"context"
	"time"

	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/session"
	"github.com/mcpanvil/core/internal/protocol"
)

// RequestContext carries everything a stage or the handler needs about one
// in-flight request. It is built once per request (or per batch item) by
// the transport and threaded through the pipeline.
type RequestContext struct {
	Request *protocol.Request

	// RawSize is the byte length of the request as it arrived on the
	// wire (one batch element's encoding, or the whole body for a single
	// request), set by the transport before the pipeline runs.
	RawSize int

	// ClientIP and Headers come from the transport (HTTP remote addr /
	// X-Forwarded-For, or a synthetic loopback address for stdio).
	ClientIP string
	Headers  map[string]string

	// Auth is populated by the auth stage on success; nil means the
	// request carried no credentials. initialize/ping always tolerate
	// this; other methods do only when the handler does not require auth
	// (handler.SetAuthRequired).
	Auth *auth.AuthContext
	// Session is populated when the credential resolved to a live
	// session rather than a bare API key.
	Session *session.Session

	StartTime time.Time
}

// Header looks up a header case-sensitively as the transport stored it;
// transports are expected to normalize keys (e.g. canonical HTTP form)
// before populating Headers.
func (rc *RequestContext) Header(name string) string {
	if rc.Headers == nil {
		return ""
	}
	return rc.Headers[name]
}

// PreStage runs before dispatch. A non-nil *protocol.Error short-circuits
// the pipeline: no further pre-stages run, dispatch is skipped, and the
// error becomes the response.
type PreStage interface {
	Handle(ctx context.Context, rc *RequestContext) *protocol.Error
}

// PreStageFunc adapts a plain function to PreStage.
type PreStageFunc func(ctx context.Context, rc *RequestContext) *protocol.Error

func (f PreStageFunc) Handle(ctx context.Context, rc *RequestContext) *protocol.Error { return f(ctx, rc) }

// PostStage observes the outcome of a request after dispatch (or after a
// pre-stage short-circuit). It cannot change the response.
type PostStage interface {
	Observe(ctx context.Context, rc *RequestContext, outcomeErr *protocol.Error)
}

// PostStageFunc adapts a plain function to PostStage.
type PostStageFunc func(ctx context.Context, rc *RequestContext, outcomeErr *protocol.Error)

func (f PostStageFunc) Observe(ctx context.Context, rc *RequestContext, outcomeErr *protocol.Error) {
	f(ctx, rc, outcomeErr)
}

// Next is the dispatch step the pipeline wraps: typically
// handler.Handler.dispatch, but kept as a plain function type so this
// package has no dependency on internal/handler.
type Next func(ctx context.Context, rc *RequestContext) (interface{}, *protocol.Error)

// Pipeline runs the ordered pre-stages, then dispatch, then the post
// stages, exactly matching spec §4.6's security_validate → auth →
// monitoring_pre → dispatch → monitoring_post chain when constructed as
// NewPipeline([security, authStage], [monitoring]): the monitoring_pre
// step (marking the start time) is done by Run itself.
type Pipeline struct {
	pre  []PreStage
	post []PostStage
}

// NewPipeline builds a pipeline from ordered pre-stages and post-stages.
// Stages run pre-stages in slice order, then (on success) dispatch, then
// post-stages in slice order regardless of outcome.
func NewPipeline(pre []PreStage, post []PostStage) *Pipeline {
	return &Pipeline{pre: pre, post: post}
}

// Run executes the pipeline around next, returning next's result or the
// first pre-stage error encountered.
func (p *Pipeline) Run(ctx context.Context, rc *RequestContext, next Next) (interface{}, *protocol.Error) {
	rc.StartTime = time.Now()

	for _, stage := range p.pre {
		if err := stage.Handle(ctx, rc); err != nil {
			p.observe(ctx, rc, err)
			return nil, err
		}
	}

	result, err := next(ctx, rc)
	p.observe(ctx, rc, err)
	return result, err
}

func (p *Pipeline) observe(ctx context.Context, rc *RequestContext, err *protocol.Error) {
	for _, stage := range p.post {
		stage.Observe(ctx, rc, err)
	}
}
