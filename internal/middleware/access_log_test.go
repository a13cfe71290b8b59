package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	method, route string
	status        int
}

type recorder struct {
	mu   sync.Mutex
	seen []observed
}

func (r *recorder) ObserveRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observed{method, route, status})
}

func TestAccessLog(t *testing.T) {
	t.Run("ShouldReportHandlerStatus", func(t *testing.T) {
		rec := &recorder{}
		app := fiber.New()
		app.Use(AccessLog(rec))
		app.Post("/items/:id", func(c fiber.Ctx) error {
			return c.SendStatus(fiber.StatusCreated)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/items/7", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Len(t, rec.seen, 1)
		assert.Equal(t, observed{http.MethodPost, "/items/:id", http.StatusCreated}, rec.seen[0])
	})

	t.Run("ShouldReportErrorsReturnedByHandlers", func(t *testing.T) {
		rec := &recorder{}
		app := fiber.New()
		app.Use(AccessLog(rec))
		app.Get("/teapot", func(_ fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTeapot, "short and stout")
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/teapot", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
		require.Len(t, rec.seen, 1)
		assert.Equal(t, http.StatusTeapot, rec.seen[0].status)
	})

	t.Run("ShouldWorkWithoutObserver", func(t *testing.T) {
		app := fiber.New()
		app.Use(AccessLog(nil))
		app.Get("/", func(c fiber.Ctx) error { return c.SendString("ok") })

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
