package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

type stubHealth map[string]error

func (s stubHealth) Check(context.Context) map[string]error { return s }

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ctx := setupTestContext("GET", "/health", nil)
		NewHealthHandler(stubHealth{}).GetHealth(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"status":"healthy"}`, string(ctx.Response.Body()))
	})

	t.Run("dependency down", func(t *testing.T) {
		ctx := setupTestContext("GET", "/health", nil)
		NewHealthHandler(stubHealth{"redis": errors.New("redis: refused")}).GetHealth(ctx)

		assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"status":"unhealthy","errors":{"redis":"redis: refused"}}`, string(ctx.Response.Body()))
	})
}
