package storetesting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/felo/emailparser/internal/store"
)

// TestStore runs the Store contract against a fresh store per case
func TestStore(t *testing.T, factory func(t *testing.T) store.Store) {
	tests := map[string]func(t *testing.T, s store.Store){
		"Create":                 testCreate,
		"CreateReservedID":       testCreateReservedID,
		"GetNotFound":            testGetNotFound,
		"MergeAllAbsent":         testMergeAllAbsent,
		"MergePartial":           testMergePartial,
		"MergeTrades":            testMergeTrades,
		"MergeNotFound":          testMergeNotFound,
		"MergeForeignTrade":      testMergeForeignTrade,
		"ConcurrentMerge":        testConcurrentMerge,
		"ListNewestFirst":        testListNewestFirst,
		"ReturnsCopies":          testReturnsCopies,
		"TradeIDsIncrease":       testTradeIDsIncrease,
		"ConcurrentCreateUnique": testConcurrentCreateUnique,
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test(t, factory(t))
		})
	}
}

func newEmail(t *testing.T, s store.Store, subject string, trades int) *store.Email {
	t.Helper()
	ctx := context.Background()

	id, err := s.NextEmailID(ctx)
	require.NoError(t, err)

	e := &store.Email{
		ID:        id,
		Subject:   subject,
		FromEmail: "trader1@bank.com",
		ToEmails:  []string{"ops@bank.com"},
		Cc:        []string{"compliance@bank.com"},
		Body:      "Please execute.",
		Sent:      true,
	}
	for i := 0; i < trades; i++ {
		tradeID, err := s.NextTradeID(ctx)
		require.NoError(t, err)
		e.Trades = append(e.Trades, store.Trade{
			ID:             tradeID,
			EmailID:        id,
			IsSuccess:      true,
			ClientWay:      "Buy",
			Currency:       "USD",
			SecurityCode:   "AAPL",
			Notional:       10000,
			Price:          150,
			TradeDate:      "2024-01-01T00:00",
			SettlementDate: "2024-01-03T00:00",
			ClientID:       "CLIENT_1",
			BrokerID:       "BROKER_1",
			CreatedAt:      time.Now(),
		})
	}
	return e
}

func create(t *testing.T, s store.Store, subject string, trades int) *store.Email {
	t.Helper()

	created, err := s.Create(context.Background(), newEmail(t, s, subject, trades))
	require.NoError(t, err)
	return created
}

func testCreate(t *testing.T, s store.Store) {
	before := time.Now()
	e := newEmail(t, s, "Trade Confirmation - AAPL", 2)

	created, err := s.Create(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, e.ID, created.ID)
	assert.Equal(t, "Trade Confirmation - AAPL", created.Subject)
	assert.False(t, created.Sent, "New emails are never sent")
	assert.True(t, created.CreatedAt.Equal(created.ModifiedAt))
	assert.False(t, created.CreatedAt.Before(before.Truncate(time.Millisecond)))
	require.Len(t, created.Trades, 2)
	assert.Equal(t, created.ID, created.Trades[0].EmailID)

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("Get() mismatch (-created +got):\n%s", diff)
	}
}

func testCreateReservedID(t *testing.T, s store.Store) {
	first := create(t, s, "first", 0)

	second, err := s.Create(context.Background(), &store.Email{Subject: "second"})
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID, "A zero ID gets the next identifier")
	assert.Equal(t, []string{}, second.ToEmails)
	assert.Equal(t, []store.Trade{}, second.Trades)
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), 404)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testMergeAllAbsent(t *testing.T, s store.Store) {
	created := create(t, s, "unchanged", 1)

	merged, err := s.Merge(context.Background(), created.ID, store.EmailPatch{})
	require.NoError(t, err)

	if diff := cmp.Diff(created, merged, cmpopts.IgnoreFields(store.Email{}, "ModifiedAt")); diff != "" {
		t.Errorf("Merge() changed fields (-created +merged):\n%s", diff)
	}
	assert.False(t, merged.ModifiedAt.Before(created.ModifiedAt))
	assert.True(t, merged.CreatedAt.Equal(created.CreatedAt))
}

func testMergePartial(t *testing.T, s store.Store) {
	created := create(t, s, "before", 1)
	subject := "after"
	sent := true

	merged, err := s.Merge(context.Background(), created.ID, store.EmailPatch{
		Subject: &subject,
		Sent:    &sent,
		Cc:      []string{},
	})
	require.NoError(t, err)

	assert.Equal(t, "after", merged.Subject)
	assert.True(t, merged.Sent)
	assert.Equal(t, []string{}, merged.Cc, "An empty list is present, not absent")
	assert.Equal(t, created.FromEmail, merged.FromEmail)
	assert.Equal(t, created.ToEmails, merged.ToEmails)
	assert.Equal(t, created.Body, merged.Body)
	assert.Len(t, merged.Trades, 1)

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(merged, got); diff != "" {
		t.Errorf("Get() after Merge() mismatch (-merged +got):\n%s", diff)
	}
}

func testMergeTrades(t *testing.T, s store.Store) {
	created := create(t, s, "trades", 2)

	replacement := created.Trades[1]
	replacement.EmailID = 999
	replacement.Price = 151.5

	merged, err := s.Merge(context.Background(), created.ID, store.EmailPatch{
		Trades: []store.Trade{replacement},
	})
	require.NoError(t, err)

	require.Len(t, merged.Trades, 1)
	assert.Equal(t, replacement.ID, merged.Trades[0].ID)
	assert.Equal(t, 151.5, merged.Trades[0].Price)
	assert.Equal(t, created.ID, merged.Trades[0].EmailID, "Trades belong to the merged email")
}

func testMergeNotFound(t *testing.T, s store.Store) {
	create(t, s, "only", 0)
	before, err := s.List(context.Background())
	require.NoError(t, err)
	subject := "ghost"

	_, err = s.Merge(context.Background(), 12345, store.EmailPatch{Subject: &subject})
	assert.ErrorIs(t, err, store.ErrNotFound)

	after, err := s.List(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("List() changed after failed merge (-before +after):\n%s", diff)
	}
}

func testMergeForeignTrade(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := create(t, s, "owner", 1)
	other := create(t, s, "other", 1)

	_, err := s.Merge(ctx, other.ID, store.EmailPatch{Trades: owner.Trades})
	assert.ErrorIs(t, err, store.ErrInvalidPatch)

	got, err := s.Get(ctx, other.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(other, got); diff != "" {
		t.Errorf("Get() changed after rejected merge (-before +after):\n%s", diff)
	}
}

// mergeVersion builds a patch whose fields all carry the same marker, so a
// reader can tell a whole patch from a mix of two
func mergeVersion(marker string, sent bool) store.EmailPatch {
	subject := "subject-" + marker
	body := "body-" + marker
	return store.EmailPatch{
		Subject:  &subject,
		Body:     &body,
		ToEmails: []string{"to-" + marker + "@bank.com"},
		Sent:     &sent,
	}
}

func consistent(e *store.Email) error {
	marker, ok := strings.CutPrefix(e.Subject, "subject-")
	if !ok {
		return fmt.Errorf("email %d: unexpected subject %q", e.ID, e.Subject)
	}
	if e.Body != "body-"+marker || len(e.ToEmails) != 1 || e.ToEmails[0] != "to-"+marker+"@bank.com" {
		return fmt.Errorf("email %d: mixed merge: subject %q body %q to %v", e.ID, e.Subject, e.Body, e.ToEmails)
	}
	return nil
}

func testConcurrentMerge(t *testing.T, s store.Store) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const writers, readers = 20, 5
	ctx := context.Background()

	e := newEmail(t, s, "subject-initial", 0)
	e.Body = "body-initial"
	e.ToEmails = []string{"to-initial@bank.com"}
	created, err := s.Create(ctx, e)
	require.NoError(t, err)

	patches := make(map[string]store.EmailPatch, writers)
	for i := 0; i < writers; i++ {
		marker := fmt.Sprintf("w%02d", i)
		patches[marker] = mergeVersion(marker, i%2 == 0)
	}

	var g errgroup.Group
	for _, patch := range patches {
		patch := patch
		g.Go(func() error {
			merged, err := s.Merge(ctx, created.ID, patch)
			if err != nil {
				return err
			}
			return consistent(merged)
		})
	}
	for i := 0; i < readers; i++ {
		g.Go(func() error {
			for j := 0; j < 10; j++ {
				emails, err := s.List(ctx)
				if err != nil {
					return err
				}
				for _, listed := range emails {
					if err := consistent(listed); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	final, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, consistent(final))

	marker := strings.TrimPrefix(final.Subject, "subject-")
	want, ok := patches[marker]
	require.True(t, ok, "final email comes from a written patch, got %q", final.Subject)
	assert.Equal(t, *want.Sent, final.Sent)
	assert.True(t, final.CreatedAt.Equal(created.CreatedAt))
	assert.False(t, final.ModifiedAt.Before(final.CreatedAt))
}

func testListNewestFirst(t *testing.T, s store.Store) {
	first := create(t, s, "first", 1)
	second := create(t, s, "second", 0)
	third := create(t, s, "third", 2)

	emails, err := s.List(context.Background())
	require.NoError(t, err)

	require.Len(t, emails, 3)
	assert.Equal(t, []int64{third.ID, second.ID, first.ID},
		[]int64{emails[0].ID, emails[1].ID, emails[2].ID})
	assert.Len(t, emails[0].Trades, 2)
}

func testReturnsCopies(t *testing.T, s store.Store) {
	created := create(t, s, "copy", 1)
	created.ToEmails[0] = "mutated@bank.com"
	created.Trades[0].Price = -1

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@bank.com"}, got.ToEmails)
	assert.Equal(t, 150.0, got.Trades[0].Price)
}

func testTradeIDsIncrease(t *testing.T, s store.Store) {
	var last int64
	for i := 0; i < 10; i++ {
		id, err := s.NextTradeID(context.Background())
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func testConcurrentCreateUnique(t *testing.T, s store.Store) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const emails, tradesPerEmail = 20, 5
	ctx := context.Background()

	results := make([]*store.Email, emails)
	var g errgroup.Group
	for i := 0; i < emails; i++ {
		i := i
		g.Go(func() error {
			id, err := s.NextEmailID(ctx)
			if err != nil {
				return err
			}
			e := &store.Email{ID: id, Subject: "concurrent"}
			for j := 0; j < tradesPerEmail; j++ {
				tradeID, err := s.NextTradeID(ctx)
				if err != nil {
					return err
				}
				e.Trades = append(e.Trades, store.Trade{ID: tradeID, EmailID: id})
			}
			created, err := s.Create(ctx, e)
			if err != nil {
				return err
			}
			results[i] = created
			return nil
		})
	}
	require.NoError(t, g.Wait())

	emailIDs := map[int64]bool{}
	tradeIDs := map[int64]bool{}
	for _, e := range results {
		require.NotNil(t, e)
		assert.False(t, emailIDs[e.ID], "duplicate email id %d", e.ID)
		emailIDs[e.ID] = true
		for _, tr := range e.Trades {
			assert.False(t, tradeIDs[tr.ID], "duplicate trade id %d", tr.ID)
			tradeIDs[tr.ID] = true
		}
	}
	assert.Len(t, emailIDs, emails)
	assert.Len(t, tradeIDs, emails*tradesPerEmail)

	listed, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, emails)
}
