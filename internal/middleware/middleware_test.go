package middleware_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpanvil/core/internal/adapter/outbound/memory"
	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/ratelimit"
	"github.com/mcpanvil/core/internal/middleware"
	"github.com/mcpanvil/core/internal/protocol"
)

func newRequest(t *testing.T, method string, params interface{}) *protocol.Request {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	return &protocol.Request{JSONRPC: "2.0", ID: protocol.NewIntID(1), Method: method, Params: raw}
}

func TestPipelineRunsPreStagesThenDispatch(t *testing.T) {
	var order []string
	pre1 := middleware.PreStageFunc(func(ctx context.Context, rc *middleware.RequestContext) *protocol.Error {
		order = append(order, "pre1")
		return nil
	})
	pre2 := middleware.PreStageFunc(func(ctx context.Context, rc *middleware.RequestContext) *protocol.Error {
		order = append(order, "pre2")
		return nil
	})
	post := middleware.PostStageFunc(func(ctx context.Context, rc *middleware.RequestContext, err *protocol.Error) {
		order = append(order, "post")
	})
	pipeline := middleware.NewPipeline([]middleware.PreStage{pre1, pre2}, []middleware.PostStage{post})

	rc := &middleware.RequestContext{Request: newRequest(t, "ping", nil)}
	result, err := pipeline.Run(context.Background(), rc, func(ctx context.Context, rc *middleware.RequestContext) (interface{}, *protocol.Error) {
		order = append(order, "dispatch")
		return "ok", nil
	})

	require.Nil(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"pre1", "pre2", "dispatch", "post"}, order)
}

func TestPipelineShortCircuitsOnPreStageError(t *testing.T) {
	var dispatched bool
	blocking := middleware.PreStageFunc(func(ctx context.Context, rc *middleware.RequestContext) *protocol.Error {
		return protocol.Forbidden("nope")
	})
	postSeen := false
	post := middleware.PostStageFunc(func(ctx context.Context, rc *middleware.RequestContext, err *protocol.Error) {
		postSeen = true
		assert.NotNil(t, err)
	})
	pipeline := middleware.NewPipeline([]middleware.PreStage{blocking}, []middleware.PostStage{post})

	rc := &middleware.RequestContext{Request: newRequest(t, "tools/call", nil)}
	_, err := pipeline.Run(context.Background(), rc, func(ctx context.Context, rc *middleware.RequestContext) (interface{}, *protocol.Error) {
		dispatched = true
		return nil, nil
	})

	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeForbidden, err.Code)
	assert.False(t, dispatched)
	assert.True(t, postSeen)
}

func TestSecurityValidatorRejectsOversizedMessage(t *testing.T) {
	cfg := middleware.DefaultSecurityConfig
	cfg.MaxMessageBytes = 10
	v := middleware.NewSecurityValidator(cfg, nil)

	rc := &middleware.RequestContext{Request: newRequest(t, "ping", nil), RawSize: 1000}
	err := v.Handle(context.Background(), rc)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidRequest, err.Code)
}

func TestSecurityValidatorRejectsOversizedString(t *testing.T) {
	cfg := middleware.DefaultSecurityConfig
	cfg.MaxStringLength = 4
	v := middleware.NewSecurityValidator(cfg, nil)

	rc := &middleware.RequestContext{
		Request: newRequest(t, "tools/call", map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"message": "way too long"}}),
	}
	err := v.Handle(context.Background(), rc)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidParams, err.Code)
}

func TestSecurityValidatorRejectsTooManyParams(t *testing.T) {
	cfg := middleware.DefaultSecurityConfig
	cfg.MaxParamCount = 2
	v := middleware.NewSecurityValidator(cfg, nil)

	rc := &middleware.RequestContext{
		Request: newRequest(t, "tools/call", map[string]interface{}{"a": 1, "b": 2, "c": 3}),
	}
	err := v.Handle(context.Background(), rc)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidParams, err.Code)
}

func TestSecurityValidatorAllowsWellFormedRequest(t *testing.T) {
	v := middleware.NewSecurityValidator(middleware.DefaultSecurityConfig, nil)
	rc := &middleware.RequestContext{
		Request: newRequest(t, "tools/call", map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"message": "hi"}}),
	}
	assert.Nil(t, v.Handle(context.Background(), rc))
}

type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
}

func (s stubLimiter) Allow(context.Context, string, ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	return ratelimit.RateLimitResult{Allowed: s.allowed, RetryAfter: s.retryAfter}, nil
}

func TestSecurityValidatorEnforcesMethodRateLimit(t *testing.T) {
	cfg := middleware.DefaultSecurityConfig
	cfg.MethodLimit = ratelimit.RateLimitConfig{Rate: 1, Burst: 1, Period: time.Second}
	v := middleware.NewSecurityValidator(cfg, stubLimiter{allowed: false, retryAfter: 5 * time.Second})

	rc := &middleware.RequestContext{Request: newRequest(t, "tools/list", nil)}
	err := v.Handle(context.Background(), rc)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeUnauthorized, err.Code)
}

func TestAuthStageSkipsInitializeAndPing(t *testing.T) {
	stage := middleware.NewAuthStage(nil, nil)
	for _, method := range []string{"initialize", "ping"} {
		rc := &middleware.RequestContext{Request: newRequest(t, method, nil), Headers: map[string]string{}}
		assert.Nil(t, stage.Handle(context.Background(), rc))
		assert.Nil(t, rc.Auth)
	}
}

func TestAuthStageNoCredentialLeavesAuthNil(t *testing.T) {
	stage := middleware.NewAuthStage(nil, nil)
	rc := &middleware.RequestContext{Request: newRequest(t, "tools/list", nil), Headers: map[string]string{}}
	assert.Nil(t, stage.Handle(context.Background(), rc))
	assert.Nil(t, rc.Auth)
}

func TestAuthStageValidatesAPIKeyFromAuthorizationHeader(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAuthStore()
	manager := auth.NewManager(store, ratelimit.DefaultFailurePolicy)
	key, err := manager.CreateKey(ctx, "ci", auth.NewOperatorRole(), nil, auth.NewIPWhitelist())
	require.NoError(t, err)

	stage := middleware.NewAuthStage(manager, nil)
	rc := &middleware.RequestContext{
		Request: newRequest(t, "tools/list", nil),
		Headers: map[string]string{"Authorization": "Bearer " + key.Secret},
	}
	assert.Nil(t, stage.Handle(ctx, rc))
	require.NotNil(t, rc.Auth)
	assert.Equal(t, key.ID, rc.Auth.APIKeyID)
}

func TestAuthStageRejectsBadAPIKey(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAuthStore()
	manager := auth.NewManager(store, ratelimit.DefaultFailurePolicy)

	stage := middleware.NewAuthStage(manager, nil)
	rc := &middleware.RequestContext{
		Request: newRequest(t, "tools/list", nil),
		Headers: map[string]string{"X-API-Key": "bad_secret"},
	}
	err := stage.Handle(ctx, rc)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeUnauthorized, err.Code)
}

func TestMonitoringStageRecordsOutcome(t *testing.T) {
	var gotMethod, gotOutcome string
	recorder := recorderFunc(func(method, outcome string, _ time.Duration) {
		gotMethod, gotOutcome = method, outcome
	})
	stage := middleware.NewMonitoringStage(recorder)
	rc := &middleware.RequestContext{Request: newRequest(t, "tools/call", nil), StartTime: time.Now()}

	stage.Observe(context.Background(), rc, protocol.Forbidden("no"))
	assert.Equal(t, "tools/call", gotMethod)
	assert.Equal(t, "error", gotOutcome)

	stage.Observe(context.Background(), rc, nil)
	assert.Equal(t, "success", gotOutcome)
}

type recorderFunc func(method, outcome string, d time.Duration)

func (f recorderFunc) ObserveRequest(method, outcome string, d time.Duration) { f(method, outcome, d) }
