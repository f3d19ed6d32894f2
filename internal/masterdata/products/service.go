package products

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service manages the product catalogue.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs the service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// List returns a page of products and the total count.
func (s *Service) List(ctx context.Context, filter Filter) ([]Product, int, error) {
	return s.repo.List(ctx, filter)
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.Validation("invalid product ID")
	}
	return s.repo.Get(ctx, id)
}

// Create validates account configuration and stores the product.
func (s *Service) Create(ctx context.Context, input CreateInput) (Product, error) {
	if err := validate(input); err != nil {
		return Product{}, err
	}
	product, err := s.repo.Create(ctx, input)
	if err != nil {
		return Product{}, err
	}
	s.logger.Info("product created", slog.Int64("product_id", product.ID), slog.String("code", product.Code))
	return product, nil
}
