package health

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", Required(pinger{}))
	c.Register("redis", Optional(pinger{}))

	assert.True(t, c.IsReady(context.Background()))
	assert.Equal(t, map[string]Status{"store": StatusOK, "redis": StatusOK}, c.Last())
}

func TestChecker_RequiredDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", Required(pinger{err: errors.New("closed")}))

	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_OptionalDegradedStillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", Required(pinger{}))
	c.Register("redis", Optional(pinger{err: errors.New("refused")}))

	results := c.RunAll(context.Background())
	assert.Equal(t, StatusDegraded, results["redis"])
	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	assert.True(t, NewChecker(zerolog.Nop()).IsReady(context.Background()))
}

func TestHandlers(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	down := false
	c.Register("store", func(context.Context) Status {
		if down {
			return StatusDown
		}
		return StatusOK
	})

	app := fiber.New()
	app.Get("/healthz", LivenessHandler())
	app.Get("/readyz", c.ReadinessHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/readyz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	down = true
	resp, err = app.Test(httptest.NewRequest("GET", "/readyz", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "not_ready")
}
