package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felo/emailparser/internal/store"
)

const (
	seqEmail = "email"
	seqTrade = "trade"
)

var _ store.Store = (*Store)(nil)

// Store keeps emails in SQLite. A single connection serializes writers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens a connection to the SQLite database and initializes the schema
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single connection, and ":memory:" needs it
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: sqlDB, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nextValue(ctx context.Context, q queryer, name string) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx,
		`UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", name, err)
	}
	return v, nil
}

func (s *Store) NextEmailID(ctx context.Context) (int64, error) {
	return nextValue(ctx, s.db, seqEmail)
}

func (s *Store) NextTradeID(ctx context.Context) (int64, error) {
	return nextValue(ctx, s.db, seqTrade)
}

func (s *Store) Create(ctx context.Context, e *store.Email) (*store.Email, error) {
	created := e.Clone()
	now := unixNano(s.now())
	created.CreatedAt = now
	created.ModifiedAt = now
	created.Sent = false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if created.ID == 0 {
			id, err := nextValue(ctx, tx, seqEmail)
			if err != nil {
				return err
			}
			created.ID = id
		}
		for i := range created.Trades {
			created.Trades[i].EmailID = created.ID
			created.Trades[i].CreatedAt = unixNano(created.Trades[i].CreatedAt)
		}

		to, cc, err := encodeAddresses(created)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO emails (id, subject, from_email, to_emails, cc, body, sent, created_at, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, created.ID, created.Subject, created.FromEmail, to, cc, created.Body, created.Sent,
			created.CreatedAt.UnixNano(), created.ModifiedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert email: %w", err)
		}
		return insertTrades(ctx, tx, created.Trades)
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id int64) (*store.Email, error) {
	var e *store.Email
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = getEmail(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) Merge(ctx context.Context, id int64, patch store.EmailPatch) (*store.Email, error) {
	var merged *store.Email
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		e, err := getEmail(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := patch.Validate(e); err != nil {
			return err
		}

		patch.Apply(e, s.now())
		e.ModifiedAt = unixNano(e.ModifiedAt)

		to, cc, err := encodeAddresses(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE emails
			SET subject = ?, from_email = ?, to_emails = ?, cc = ?, body = ?, sent = ?, modified_at = ?
			WHERE id = ?
		`, e.Subject, e.FromEmail, to, cc, e.Body, e.Sent, e.ModifiedAt.UnixNano(), id)
		if err != nil {
			return fmt.Errorf("failed to update email: %w", err)
		}

		if patch.Trades != nil {
			for i := range e.Trades {
				e.Trades[i].CreatedAt = unixNano(e.Trades[i].CreatedAt)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE email_id = ?`, id); err != nil {
				return fmt.Errorf("failed to replace trades: %w", err)
			}
			if err := insertTrades(ctx, tx, e.Trades); err != nil {
				return err
			}
		}

		merged = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]*store.Email, error) {
	var emails []*store.Email
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, subject, from_email, to_emails, cc, body, sent, created_at, modified_at
			FROM emails
			ORDER BY created_at DESC, id DESC
		`)
		if err != nil {
			return fmt.Errorf("failed to list emails: %w", err)
		}
		defer rows.Close()

		byID := map[int64]*store.Email{}
		for rows.Next() {
			e, err := scanEmail(rows)
			if err != nil {
				return err
			}
			emails = append(emails, e)
			byID[e.ID] = e
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list emails: %w", err)
		}
		rows.Close()

		trades, err := queryTrades(ctx, tx, `ORDER BY email_id, position`)
		if err != nil {
			return err
		}
		for _, t := range trades {
			if e, ok := byID[t.EmailID]; ok {
				e.Trades = append(e.Trades, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if emails == nil {
		emails = []*store.Email{}
	}
	for i, e := range emails {
		emails[i] = e.Clone()
	}
	store.SortNewestFirst(emails)
	return emails, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*store.Email, error) {
	var (
		e                     store.Email
		to, cc                string
		createdAt, modifiedAt int64
	)
	err := row.Scan(&e.ID, &e.Subject, &e.FromEmail, &to, &cc, &e.Body, &e.Sent, &createdAt, &modifiedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(to), &e.ToEmails); err != nil {
		return nil, fmt.Errorf("failed to decode recipients of email %d: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(cc), &e.Cc); err != nil {
		return nil, fmt.Errorf("failed to decode cc of email %d: %w", e.ID, err)
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.ModifiedAt = time.Unix(0, modifiedAt)
	return &e, nil
}

func getEmail(ctx context.Context, q queryer, id int64) (*store.Email, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, subject, from_email, to_emails, cc, body, sent, created_at, modified_at
		FROM emails WHERE id = ?
	`, id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get email %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	e.Trades, err = queryTrades(ctx, q, `WHERE email_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

func queryTrades(ctx context.Context, q queryer, clause string, args ...any) ([]store.Trade, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, email_id, is_success, error_message, client_way, currency, isin_code,
		       security_code, notional, schema_identifier, schema_type, schema_version,
		       solve_header, client_id, broker_id, quantity, price, trade_date,
		       settlement_date, created_at
		FROM trades `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []store.Trade
	for rows.Next() {
		var (
			t         store.Trade
			createdAt int64
		)
		err := rows.Scan(
			&t.ID, &t.EmailID, &t.IsSuccess, &t.ErrorMessage, &t.ClientWay, &t.Currency, &t.IsinCode,
			&t.SecurityCode, &t.Notional, &t.SchemaIdentifier, &t.SchemaType, &t.SchemaVersion,
			&t.SolveHeader, &t.ClientID, &t.BrokerID, &t.Quantity, &t.Price, &t.TradeDate,
			&t.SettlementDate, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.CreatedAt = time.Unix(0, createdAt)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return trades, nil
}

func insertTrades(ctx context.Context, tx *sql.Tx, trades []store.Trade) error {
	for i, t := range trades {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (
				id, email_id, position, is_success, error_message, client_way, currency, isin_code,
				security_code, notional, schema_identifier, schema_type, schema_version,
				solve_header, client_id, broker_id, quantity, price, trade_date,
				settlement_date, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.ID, t.EmailID, i, t.IsSuccess, t.ErrorMessage, t.ClientWay, t.Currency, t.IsinCode,
			t.SecurityCode, t.Notional, t.SchemaIdentifier, t.SchemaType, t.SchemaVersion,
			t.SolveHeader, t.ClientID, t.BrokerID, t.Quantity, t.Price, t.TradeDate,
			t.SettlementDate, t.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", t.ID, err)
		}
	}
	return nil
}

func encodeAddresses(e *store.Email) (string, string, error) {
	to, err := json.Marshal(e.ToEmails)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode recipients: %w", err)
	}
	cc, err := json.Marshal(e.Cc)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode cc: %w", err)
	}
	return string(to), string(cc), nil
}

// unixNano drops the monotonic reading and sub-nanosecond detail so that a
// value read back from the database compares equal
func unixNano(t time.Time) time.Time {
	return time.Unix(0, t.UnixNano())
}
