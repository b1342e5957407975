package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrNotFound = errors.New("email not found")
	// ErrInvalidPatch is returned by Merge for a patch that cannot be applied
	ErrInvalidPatch = errors.New("invalid email patch")
)

// Store holds Email aggregates and allocates Email and Trade identifiers.
// Identifiers are never reused, even when the reserving caller gives up.
type Store interface {
	NextEmailID(ctx context.Context) (int64, error)
	NextTradeID(ctx context.Context) (int64, error)

	// Create stores e with CreatedAt = ModifiedAt = now and Sent = false.
	// A zero ID is replaced by the next Email identifier.
	Create(ctx context.Context, e *Email) (*Email, error)
	Get(ctx context.Context, id int64) (*Email, error)
	// Merge replaces every field present in patch and refreshes ModifiedAt.
	// A patch failing Validate leaves the email untouched.
	Merge(ctx context.Context, id int64, patch EmailPatch) (*Email, error)
	// List returns every Email, newest first
	List(ctx context.Context) ([]*Email, error)
}

// Email is the aggregate root: message metadata plus the trades extracted from it
type Email struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	FromEmail  string    `json:"fromEmail"`
	ToEmails   []string  `json:"toEmails"`
	Cc         []string  `json:"cc"`
	Body       string    `json:"body"`
	Trades     []Trade   `json:"trades"`
	Sent       bool      `json:"sent"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Trade is one reconciled extraction result
type Trade struct {
	ID               int64     `json:"id"`
	EmailID          int64     `json:"emailId"`
	IsSuccess        bool      `json:"isSuccess"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	ClientWay        string    `json:"clientWay"`
	Currency         string    `json:"currency"`
	IsinCode         string    `json:"isinCode"`
	SecurityCode     string    `json:"securityCode"`
	Notional         float64   `json:"notional"`
	SchemaIdentifier string    `json:"schemaIdentifier"`
	SchemaType       string    `json:"schemaType"`
	SchemaVersion    string    `json:"schemaVersion"`
	SolveHeader      string    `json:"solveHeader"`
	ClientID         string    `json:"clientId"`
	BrokerID         string    `json:"brokerId"`
	Quantity         float64   `json:"quantity"`
	Price            float64   `json:"price"`
	TradeDate        string    `json:"tradeDate"`
	SettlementDate   string    `json:"settlementDate"`
	CreatedAt        time.Time `json:"createdAt"`
}

// EmailPatch is a partial Email. Nil fields are absent and left untouched.
type EmailPatch struct {
	Subject   *string  `json:"subject"`
	FromEmail *string  `json:"fromEmail"`
	ToEmails  []string `json:"toEmails"`
	Cc        []string `json:"cc"`
	Body      *string  `json:"body"`
	Trades    []Trade  `json:"trades"`
	Sent      *bool    `json:"sent"`
}

// Validate checks p against the stored e. Replacement trades must be trades
// e already owns, each at most once, so trade ids stay unique store-wide.
func (p EmailPatch) Validate(e *Email) error {
	if p.Trades == nil {
		return nil
	}
	owned := make(map[int64]bool, len(e.Trades))
	for _, t := range e.Trades {
		owned[t.ID] = true
	}
	seen := make(map[int64]bool, len(p.Trades))
	for _, t := range p.Trades {
		if !owned[t.ID] {
			return fmt.Errorf("%w: trade %d does not belong to email %d", ErrInvalidPatch, t.ID, e.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: trade %d listed twice", ErrInvalidPatch, t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Apply merges p into e and stamps ModifiedAt. CreatedAt and ID are kept.
func (p EmailPatch) Apply(e *Email, now time.Time) {
	if p.Subject != nil {
		e.Subject = *p.Subject
	}
	if p.FromEmail != nil {
		e.FromEmail = *p.FromEmail
	}
	if p.ToEmails != nil {
		e.ToEmails = slices.Clone(p.ToEmails)
	}
	if p.Cc != nil {
		e.Cc = slices.Clone(p.Cc)
	}
	if p.Body != nil {
		e.Body = *p.Body
	}
	if p.Trades != nil {
		e.Trades = slices.Clone(p.Trades)
		for i := range e.Trades {
			e.Trades[i].EmailID = e.ID
		}
	}
	if p.Sent != nil {
		e.Sent = *p.Sent
	}
	if now.Before(e.CreatedAt) {
		now = e.CreatedAt
	}
	e.ModifiedAt = now
}

// Clone returns a deep copy of e with non-nil slices
func (e *Email) Clone() *Email {
	c := *e
	c.ToEmails = cloneStrings(e.ToEmails)
	c.Cc = cloneStrings(e.Cc)
	c.Trades = slices.Clone(e.Trades)
	if c.Trades == nil {
		c.Trades = []Trade{}
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// SortNewestFirst orders emails by CreatedAt descending, then ID descending
func SortNewestFirst(emails []*Email) {
	slices.SortStableFunc(emails, func(a, b *Email) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}
