package pipeline

import (
	"context"
	"fmt"

	"github.com/felo/emailparser/internal/extraction"
	"github.com/felo/emailparser/internal/logging"
	"github.com/felo/emailparser/internal/parser"
	"github.com/felo/emailparser/internal/reconcile"
	"github.com/felo/emailparser/internal/store"
)

// Submitter sends a normalized message to the extraction service
type Submitter interface {
	Submit(ctx context.Context, msg *parser.NormalizedMessage) ([]extraction.Result, error)
}

// Service runs one raw email through extraction, reconciliation and storage
type Service struct {
	submitter  Submitter
	store      store.Store
	reconciler *reconcile.Reconciler
}

func New(submitter Submitter, st store.Store) *Service {
	return &Service{
		submitter:  submitter,
		store:      st,
		reconciler: reconcile.New(st),
	}
}

// Parse decodes payload, asks the extraction service for quotes and stores
// the resulting Email. Nothing is stored when any step fails.
func (s *Service) Parse(ctx context.Context, payload []byte, format parser.Format) (*store.Email, error) {
	msg, err := parser.Extract(payload, format)
	if err != nil {
		return nil, err
	}

	log := logging.Log.WithField("subject", msg.Subject).WithField("format", format.String())

	results, err := s.submitter.Submit(ctx, msg)
	if err != nil {
		log.WithError(err).Warn("Extraction failed")
		return nil, err
	}

	emailID, err := s.store.NextEmailID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve email id: %w", err)
	}

	trades, err := s.reconciler.Reconcile(ctx, results, emailID)
	if err != nil {
		return nil, err
	}

	email, err := s.store.Create(ctx, &store.Email{
		ID:        emailID,
		Subject:   msg.Subject,
		FromEmail: msg.From,
		ToEmails:  msg.To,
		Cc:        msg.Cc,
		Body:      msg.Body,
		Trades:    trades,
	})
	if err != nil {
		return nil, fmt.Errorf("store email: %w", err)
	}

	log.WithField("email_id", email.ID).WithField("trades", len(email.Trades)).Info("Email parsed")
	return email, nil
}
