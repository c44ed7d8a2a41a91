package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/ManuelReschke/Bookfox/internal/api/v1"
	"github.com/ManuelReschke/Bookfox/internal/pkg/security"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

func newLocalApp(t *testing.T) (*fiber.App, *storage.LocalStore) {
	t.Helper()
	signer, err := security.NewSigner("router-secret")
	require.NoError(t, err)
	local, err := storage.NewLocalStore(t.TempDir(), "http://localhost:4000", signer)
	require.NoError(t, err)
	app := fiber.New()
	NewSystemRouter(local, "").InstallRouter(app)
	return app, local
}

func requestURI(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.RequestURI()
}

func TestServeLocalFiles(t *testing.T) {
	ctx := context.Background()
	app, local := newLocalApp(t)
	body := []byte("%PDF-1.4 test")
	require.NoError(t, local.Put(ctx, "books/1/original.pdf", bytes.NewReader(body), int64(len(body)), "application/pdf"))
	require.NoError(t, local.Put(ctx, "books/2/original.pdf", bytes.NewReader(body), int64(len(body)), "application/pdf"))

	signed, err := local.Presign(ctx, "books/1/original.pdf", 10*time.Minute)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, requestURI(t, signed), nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get(fiber.HeaderContentType))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	other := "/files/books/2/original.pdf?token=" + url.QueryEscape(u.Query().Get("token"))
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, other, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode, "a token opens only its own key")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/files/books/1/original.pdf?token=forged", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestHealthWithoutCachedResult(t *testing.T) {
	objects := storage.NewMemoryStore()
	app := fiber.New()
	NewSystemRouter(objects, "").InstallRouter(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestApiRateLimit(t *testing.T) {
	t.Setenv("API_RATE_LIMIT", "2")
	app := fiber.New()
	NewApiRouter(Deps{API: apiv1.NewAPIServer(apiv1.Services{}), AdminKey: "k"}).InstallRouter(app)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.Header.Set("X-User-ID", "reader-1")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-User-ID", "reader-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-User-ID", "reader-2")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "limits are per user")
}
