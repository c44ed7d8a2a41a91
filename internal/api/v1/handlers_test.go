package apiv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/app/repository/memory"
	"github.com/ManuelReschke/Bookfox/internal/pkg/access"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/billing"
	"github.com/ManuelReschke/Bookfox/internal/pkg/catalog"
	"github.com/ManuelReschke/Bookfox/internal/pkg/entitlements"
	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
	"github.com/ManuelReschke/Bookfox/internal/pkg/locator"
	"github.com/ManuelReschke/Bookfox/internal/pkg/middleware"
	"github.com/ManuelReschke/Bookfox/internal/pkg/retry"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

const (
	adminKey      = "admin-key"
	webhookSecret = "whsec"
	pdfBody       = "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n"
)

type paymentRows struct {
	mu   sync.Mutex
	rows map[string]models.PaymentConfirmation
}

func (p *paymentRows) HasConfirmation(_ context.Context, ref string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.rows[ref]
	return ok, nil
}

func (p *paymentRows) CreateConfirmationIfNotExists(_ context.Context, c *models.PaymentConfirmation) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rows[c.TransactionRef]; ok {
		return false, nil
	}
	p.rows[c.TransactionRef] = *c
	return true, nil
}

type testServer struct {
	app   *fiber.App
	repos *repository.Repositories
	plan  *models.RentalPlan
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimits(t, nil)
}

func newTestServerWithLimits(t *testing.T, adjust func(*ingest.Limits)) *testServer {
	t.Helper()
	ctx := context.Background()
	mem := memory.NewStore()
	repos := mem.Repositories()
	mem.PutBook(models.CatalogBook{ID: 1, Title: "Dune", SubscriptionEligible: true})
	mem.PutBook(models.CatalogBook{ID: 2, Title: "Soon", SubscriptionEligible: true})

	plan := &models.RentalPlan{BookID: 1, Name: "week", DurationDays: 7, IsActive: true}
	require.NoError(t, repos.Plan.CreateRentalPlan(ctx, plan))

	payments := billing.NewService(&paymentRows{rows: map[string]models.PaymentConfirmation{}}).WithMockPayments("paid-")
	ents := entitlements.NewStore(repos, payments)
	objects := storage.NewMemoryStore()
	loc := locator.New(repos.Asset, nil)
	limits := ingest.DefaultLimits()
	limits.SpoolDir = t.TempDir()
	if adjust != nil {
		adjust(&limits)
	}
	in := ingest.NewIngestor(repos.Asset, objects, limits).WithIndexObserver(loc)
	resolver := access.NewResolver(ents, repos.Book, loc, objects, access.Config{Retry: retry.Config{MaxAttempts: 1}})

	server := NewAPIServer(Services{
		Entitlements:  ents,
		Access:        resolver,
		Catalog:       catalog.NewService(repos, nil),
		Ingestor:      in,
		Payments:      payments,
		WebhookSecret: webhookSecret,
	})
	app := fiber.New(AppConfig(limits.MaxArchiveBytes))
	app.Use(middleware.IdentityMiddleware)
	RegisterHandlers(app.Group("/api/v1"), server, middleware.AdminAPIKeyMiddleware(adminKey))
	return &testServer{app: app, repos: repos, plan: plan}
}

type response struct {
	status int
	body   map[string]interface{}
}

func (s *testServer) do(t *testing.T, req *http.Request) response {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func jsonRequest(method, path, user string, body interface{}) *http.Request {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	return req
}

func uploadRequest(t *testing.T, bookID uint, kind, filename, content string) *http.Request {
	return uploadRequestTo(t, fmt.Sprintf("/api/v1/admin/books/%d/ebook", bookID), kind, filename, content)
}

func uploadRequestTo(t *testing.T, path, kind, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("kind", kind))
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-API-Key", adminKey)
	return req
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code   apperr.Code
		status int
	}{
		{apperr.CodeValidation, 400},
		{apperr.CodeInvalidFormat, 400},
		{apperr.CodePaymentRequired, 402},
		{apperr.CodeRentalExpired, 403},
		{apperr.CodeSubscriptionActive, 409},
		{apperr.CodePlanInUse, 409},
		{apperr.CodeTooLarge, 413},
		{apperr.CodeSuspiciousArchive, 422},
		{apperr.CodeNotFound, 404},
		{apperr.CodeNotReady, 425},
		{apperr.CodeAccessServiceUnavailable, 503},
		{apperr.Code("surprise"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.code), tt.code)
	}
}

func TestRentReadAndReturn(t *testing.T) {
	s := newTestServer(t)

	event := []byte(`{"provider":"stripe","type":"payment.captured","transaction_ref":"txn-42","amount_cents":499,"currency":"eur"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(event))
	req.Header.Set(HeaderWebhookSignature, "sha256="+billing.SignWebhookPayload(event, webhookSecret))
	resp := s.do(t, req)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, true, resp.body["recorded"])

	resp = s.do(t, uploadRequestTo(t, "/api/v1/admin/books/1/ebook?sync=1", "single_file", "dune.pdf", pdfBody))
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	assert.Equal(t, "ready", resp.body["status"])

	resp = s.do(t, jsonRequest(http.MethodPost, "/api/v1/rentals", "reader-1", RentRequest{BookID: 1, PlanID: s.plan.ID, PaymentRef: "txn-42"}))
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	rentalID := uint(resp.body["id"].(float64))

	resp = s.do(t, jsonRequest(http.MethodGet, "/api/v1/books/1/access", "reader-1", nil))
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, true, resp.body["has_access"])
	assert.Equal(t, "rental", resp.body["source"])

	resp = s.do(t, jsonRequest(http.MethodGet, "/api/v1/books/1/link", "reader-1", nil))
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	grant := resp.body["grant"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(grant["url"].(string), "memory://books/1/original.pdf?"))

	resp = s.do(t, jsonRequest(http.MethodPost, fmt.Sprintf("/api/v1/rentals/%d/return", rentalID), "reader-1", nil))
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "returned", resp.body["status"])

	resp = s.do(t, jsonRequest(http.MethodGet, "/api/v1/books/1/link", "reader-1", nil))
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "no_active_entitlement", resp.body["access"].(map[string]interface{})["reason"])

	resp = s.do(t, jsonRequest(http.MethodPost, "/api/v1/rentals", "reader-2", RentRequest{BookID: 1, PlanID: s.plan.ID, PaymentRef: "txn-42"}))
	assert.Equal(t, http.StatusBadRequest, resp.status, "a payment funds one purchase")
}

func TestUnpaidRental(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, jsonRequest(http.MethodPost, "/api/v1/rentals", "reader-1", RentRequest{BookID: 1, PlanID: s.plan.ID, PaymentRef: "txn-unknown"}))
	assert.Equal(t, http.StatusPaymentRequired, resp.status)
	assert.Equal(t, "payment_required", resp.body["error"])
	assert.Equal(t, true, resp.body["retryable"])

	resp = s.do(t, jsonRequest(http.MethodPost, "/api/v1/rentals", "reader-1", map[string]interface{}{"book_id": 1}))
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestContentNotReady(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.repos.Asset.Create(ctx, &models.EbookAsset{BookID: 2, Kind: models.AssetKindSingleFile}))
	plan := &models.RentalPlan{BookID: 2, Name: "week", DurationDays: 7, IsActive: true}
	require.NoError(t, s.repos.Plan.CreateRentalPlan(ctx, plan))

	resp := s.do(t, jsonRequest(http.MethodPost, "/api/v1/rentals", "reader-1", RentRequest{BookID: 2, PlanID: plan.ID, PaymentRef: "paid-1"}))
	require.Equal(t, http.StatusCreated, resp.status, resp.body)

	resp = s.do(t, jsonRequest(http.MethodGet, "/api/v1/books/2/link", "reader-1", nil))
	assert.Equal(t, http.StatusTooEarly, resp.status)
	assert.Equal(t, "content_not_ready", resp.body["access"].(map[string]interface{})["reason"])
}

func TestIdentityAndAdminKey(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, jsonRequest(http.MethodGet, "/api/v1/rentals", "", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = s.do(t, jsonRequest(http.MethodGet, "/api/v1/plans/rental?book_id=1", "", nil))
	require.Equal(t, http.StatusOK, resp.status)
	assert.Len(t, resp.body["plans"], 1)

	req := jsonRequest(http.MethodPost, "/api/v1/admin/plans/rental", "", CreateRentalPlanRequest{BookID: 1, Name: "month", DurationDays: 30})
	resp = s.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	req = jsonRequest(http.MethodPost, "/api/v1/admin/plans/rental", "", CreateRentalPlanRequest{BookID: 1, Name: "month", DurationDays: 30})
	req.Header.Set("Authorization", "Bearer "+adminKey)
	resp = s.do(t, req)
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	assert.Equal(t, "EUR", resp.body["currency"])
}

func TestDeletePlanInUse(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, jsonRequest(http.MethodPost, "/api/v1/rentals", "reader-1", RentRequest{BookID: 1, PlanID: s.plan.ID, PaymentRef: "paid-7"}))
	require.Equal(t, http.StatusCreated, resp.status)

	req := jsonRequest(http.MethodDelete, fmt.Sprintf("/api/v1/admin/plans/rental/%d", s.plan.ID), "", nil)
	req.Header.Set("X-API-Key", adminKey)
	resp = s.do(t, req)
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "plan_in_use", resp.body["error"])
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, uploadRequest(t, 1, "cbz", "dune.pdf", pdfBody))
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "invalid_format", resp.body["error"])

	resp = s.do(t, uploadRequest(t, 1, "epub3", "dune.epub", pdfBody))
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestAppConfigStreamsUploads(t *testing.T) {
	cfg := AppConfig(500 << 20)
	assert.True(t, cfg.StreamRequestBody)
	assert.Equal(t, 500<<20+multipartOverhead, cfg.BodyLimit)
}

func TestUploadOverArchiveLimit(t *testing.T) {
	s := newTestServerWithLimits(t, func(l *ingest.Limits) { l.MaxArchiveBytes = 4 << 10 })

	big := pdfBody + strings.Repeat("x", 64<<10)
	resp := s.do(t, uploadRequestTo(t, "/api/v1/admin/books/1/ebook?sync=1", "single_file", "dune.pdf", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.status)
	assert.Equal(t, "too_large", resp.body["error"])

	resp = s.do(t, uploadRequestTo(t, "/api/v1/admin/books/1/ebook?sync=1", "single_file", "dune.pdf", pdfBody))
	assert.Equal(t, http.StatusCreated, resp.status)
}

func TestWebhookSignature(t *testing.T) {
	s := newTestServer(t)
	event := []byte(`{"provider":"stripe","type":"payment.captured","transaction_ref":"txn-1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(event))
	req.Header.Set(HeaderWebhookSignature, billing.SignWebhookPayload(event, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).status)

	refund := []byte(`{"provider":"stripe","type":"payment.refunded","transaction_ref":"txn-1"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(refund))
	req.Header.Set(HeaderWebhookSignature, billing.SignWebhookPayload(refund, webhookSecret))
	resp := s.do(t, req)
	assert.Equal(t, http.StatusAccepted, resp.status)
	assert.Equal(t, false, resp.body["recorded"])
}
