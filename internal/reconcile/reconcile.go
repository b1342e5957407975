// Package reconcile turns extraction results into Trade records.
//
// A successful result whose contract leaves a field unset gets a default
// (zero amounts, today's trade date, settlement two days later) so the trade
// stays usable. Failed results keep every contract field empty.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/felo/emailparser/internal/extraction"
	"github.com/felo/emailparser/internal/store"
)

const (
	// DefaultErrorMessage is used when a failed result carries no message
	DefaultErrorMessage = "extraction failed"

	dateLayout       = "2006-01-02"
	midnight         = "T00:00"
	settlementOffset = 2
)

// IDSource allocates Trade identifiers
type IDSource interface {
	NextTradeID(ctx context.Context) (int64, error)
}

type Reconciler struct {
	ids IDSource
	now func() time.Time
}

func New(ids IDSource) *Reconciler {
	return &Reconciler{ids: ids, now: time.Now}
}

// WithClock replaces the clock used for default dates and CreatedAt
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile maps every result to exactly one Trade owned by emailID, in order
func (r *Reconciler) Reconcile(ctx context.Context, results []extraction.Result, emailID int64) ([]store.Trade, error) {
	now := r.now()
	trades := make([]store.Trade, 0, len(results))
	for i, res := range results {
		id, err := r.ids.NextTradeID(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate trade id for result %d: %w", i, err)
		}
		trades = append(trades, toTrade(res, id, emailID, now))
	}
	return trades, nil
}

func toTrade(res extraction.Result, id, emailID int64, now time.Time) store.Trade {
	t := store.Trade{
		ID:        id,
		EmailID:   emailID,
		IsSuccess: res.Success,
		ClientID:  fmt.Sprintf("CLIENT_%d", emailID),
		BrokerID:  fmt.Sprintf("BROKER_%d", emailID),
		CreatedAt: now,
	}

	if !res.Success {
		t.ErrorMessage = res.Message
		if t.ErrorMessage == "" {
			t.ErrorMessage = DefaultErrorMessage
		}
		return t
	}

	c := res.Contract
	if c == nil {
		c = &extraction.Contract{}
	}
	t.ClientWay = c.ClientWay
	t.Currency = c.Currency
	t.IsinCode = c.IsinCode
	t.SecurityCode = c.SecurityCode
	t.Notional = orZero(c.Notional)
	t.Price = orZero(c.Price)
	t.Quantity = orZero(c.Quantity)
	t.SchemaIdentifier = c.SchemaIdentifier
	t.SchemaType = c.SchemaType
	t.SchemaVersion = c.SchemaVersion
	t.SolveHeader = c.SolveHeader

	t.TradeDate = c.TradeDate
	if t.TradeDate == "" {
		t.TradeDate = now.Format(dateLayout) + midnight
	}
	t.SettlementDate = c.SettlementDate
	if t.SettlementDate == "" {
		t.SettlementDate = now.AddDate(0, 0, settlementOffset).Format(dateLayout) + midnight
	}
	return t
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
