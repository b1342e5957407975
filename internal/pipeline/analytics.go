package pipeline

import (
	"context"
)

// Analytics are aggregate counters over the stored emails
type Analytics struct {
	TotalEmails    int `json:"totalEmails"`
	TotalExtracted int `json:"totalExtracted"`
	TotalSent      int `json:"totalSent"`
	TotalUntouched int `json:"totalUntouched"`
}

// Analytics counts every email, those with at least one successful trade,
// those marked sent, and those never modified since creation
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	emails, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	a := &Analytics{TotalEmails: len(emails)}
	for _, e := range emails {
		for _, t := range e.Trades {
			if t.IsSuccess {
				a.TotalExtracted++
				break
			}
		}
		if e.Sent {
			a.TotalSent++
		}
		if e.ModifiedAt.Equal(e.CreatedAt) {
			a.TotalUntouched++
		}
	}
	return a, nil
}
