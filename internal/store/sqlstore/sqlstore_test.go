package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felo/emailparser/internal/store"
	"github.com/felo/emailparser/internal/store/sqlstore"
	"github.com/felo/emailparser/internal/store/storetesting"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	s, err := sqlstore.Open(":memory:")
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return s
}

func TestStore(t *testing.T) {
	storetesting.TestStore(t, func(t *testing.T) store.Store {
		return setupTestStore(t)
	})
}

// TestStore_Reopen tests that emails and counters survive reopening a file database
func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "emails.db")

	s, err := sqlstore.Open(path)
	require.NoError(t, err)
	created, err := s.Create(ctx, &store.Email{
		Subject:  "Trade Settlement Notice",
		ToEmails: []string{"ops@bank.com"},
		Trades:   []store.Trade{{ID: 1, IsSuccess: true, Price: 99.5}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := sqlstore.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trade Settlement Notice", got.Subject)
	assert.Equal(t, []string{"ops@bank.com"}, got.ToEmails)
	require.Len(t, got.Trades, 1)
	assert.Equal(t, 99.5, got.Trades[0].Price)
	assert.Equal(t, created.ID, got.Trades[0].EmailID)

	next, err := reopened.NextEmailID(ctx)
	require.NoError(t, err)
	assert.Greater(t, next, created.ID, "Counters are never reused")
}
