package bookings

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
)

// Service exposes read access to bookings and the integrity scan used by the worker.
type Service struct {
	repo Repository
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns bookings matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Booking, error) {
	return s.repo.List(ctx, filter)
}

// Get returns one booking with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Booking, error) {
	return s.repo.Get(ctx, id)
}

// ForSource returns the bookings posted by a document.
func (s *Service) ForSource(ctx context.Context, ref sources.Ref) ([]Booking, error) {
	return s.repo.ListBySource(ctx, ref)
}

// IntegrityReport lists ledger rows that break the double-entry rules.
type IntegrityReport struct {
	Imbalanced []Imbalance     `json:"imbalanced"`
	Malformed  []MalformedLine `json:"malformed"`
}

// Violations counts every reported row.
func (r IntegrityReport) Violations() int {
	return len(r.Imbalanced) + len(r.Malformed)
}

// CheckIntegrity scans all bookings.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	imbalanced, err := s.repo.Imbalanced(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	malformed, err := s.repo.MalformedLines(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	return IntegrityReport{Imbalanced: imbalanced, Malformed: malformed}, nil
}
