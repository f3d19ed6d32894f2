package accounts

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Service exposes account maintenance.
type Service struct {
	repo      Repository
	directory *CachedDirectory
	logger    *slog.Logger
}

// NewService constructs the service.
func NewService(repo Repository, directory *CachedDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: directory, logger: logger}
}

// List returns the chart of accounts.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores an account, then invalidates the directory cache.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	if err := httpx.Validate(input); err != nil {
		return Account{}, err
	}
	account, err := s.repo.Create(ctx, input)
	if err != nil {
		return Account{}, err
	}
	if s.directory != nil {
		if err := s.directory.Bump(ctx); err != nil {
			s.logger.Warn("account cache bump failed", slog.Any("error", err))
		}
	}
	s.logger.Info("account created", slog.Int64("account_id", account.ID), slog.String("code", account.Code))
	return account, nil
}
