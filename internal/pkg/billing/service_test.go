package billing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/app/models"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows map[string]models.PaymentConfirmation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]models.PaymentConfirmation{}}
}

func (f *fakeRepo) HasConfirmation(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[ref]
	return ok, nil
}

func (f *fakeRepo) CreateConfirmationIfNotExists(_ context.Context, c *models.PaymentConfirmation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[c.TransactionRef]; ok {
		return false, nil
	}
	f.rows[c.TransactionRef] = *c
	return true, nil
}

func TestRecordConfirmationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)

	ok, err := svc.IsConfirmed(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := svc.RecordConfirmation(ctx, ConfirmationInput{Provider: "Stripe", TransactionRef: "txn-1", AmountCents: 499})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.RecordConfirmation(ctx, ConfirmationInput{Provider: "stripe", TransactionRef: "txn-1", AmountCents: 499})
	require.NoError(t, err)
	assert.False(t, created)

	ok, err = svc.IsConfirmed(ctx, " txn-1 ")
	require.NoError(t, err)
	assert.True(t, ok)

	row := repo.rows["txn-1"]
	assert.Equal(t, "stripe", row.Provider)
	assert.Equal(t, "EUR", row.Currency)
	assert.False(t, row.ConfirmedAt.IsZero())
}

func TestRecordConfirmationRequiresRef(t *testing.T) {
	_, err := NewService(newFakeRepo()).RecordConfirmation(context.Background(), ConfirmationInput{Provider: "stripe"})
	assert.Error(t, err)
}

func TestMockPayments(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeRepo()).WithMockPayments("mock_")

	ok, err := svc.IsConfirmed(ctx, "mock_123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsConfirmed(ctx, "real_123")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.IsConfirmed(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"provider":"stripe","type":"payment.captured","transaction_ref":"txn-9"}`)
	sig := SignWebhookPayload(body, "whsec")

	assert.True(t, VerifyWebhookSignature(body, sig, "whsec"))
	assert.True(t, VerifyWebhookSignature(body, "sha256="+sig, "whsec"))
	assert.False(t, VerifyWebhookSignature(body, sig, "other"))
	assert.False(t, VerifyWebhookSignature(append(body, ' '), sig, "whsec"))
	assert.False(t, VerifyWebhookSignature(body, "zz", "whsec"))
	assert.False(t, VerifyWebhookSignature(body, "", "whsec"))
}
