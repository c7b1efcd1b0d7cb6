package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpanvil/core/internal/backend/echo"
	"github.com/mcpanvil/core/internal/handler"
	"github.com/mcpanvil/core/internal/middleware"
	"github.com/mcpanvil/core/internal/protocol"
)

func TestHandleRequestEnrichesContextLogger(t *testing.T) {
	var captured context.Context
	pipeline := middleware.NewPipeline([]middleware.PreStage{
		middleware.PreStageFunc(func(ctx context.Context, rc *middleware.RequestContext) *protocol.Error {
			captured = ctx
			return nil
		}),
	}, nil)
	h := handler.New(echo.New(), pipeline, 0, nil)
	conn := handler.NewConnection()

	initReq := req(1, "initialize", map[string]interface{}{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "t", "version": "1"},
	})
	resp := h.HandleRequest(context.Background(), conn, &middleware.RequestContext{Request: initReq})
	require.NotNil(t, resp)
	require.NotNil(t, captured)

	logger := handler.LoggerFromContext(captured)
	assert.NotNil(t, logger)
}

func TestLoggerFromContextDefaultsOutsideRequest(t *testing.T) {
	logger := handler.LoggerFromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestHandleRequestHonorsExistingRequestIDHeader(t *testing.T) {
	pipeline := middleware.NewPipeline(nil, nil)
	h := handler.New(echo.New(), pipeline, 0, nil)
	conn := handler.NewConnection()

	initReq := req(1, "initialize", map[string]interface{}{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "t", "version": "1"},
	})
	rc := &middleware.RequestContext{
		Request: initReq,
		Headers: map[string]string{"X-Request-ID": "fixed-id"},
	}
	resp := h.HandleRequest(context.Background(), conn, rc)
	require.NotNil(t, resp)
}
