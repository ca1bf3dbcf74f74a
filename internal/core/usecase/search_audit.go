package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

// SearchAuditUseCase persists search-completed events consumed by the worker.
type SearchAuditUseCase struct {
	store ports.SearchAuditStore
}

func NewSearchAuditUseCase(store ports.SearchAuditStore) *SearchAuditUseCase {
	return &SearchAuditUseCase{store: store}
}

func (uc *SearchAuditUseCase) Record(ctx context.Context, event domain.SearchCompleted) error {
	if strings.TrimSpace(event.SearchID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record search", errors.New("search id is required"))
	}
	if err := uc.store.SaveSearch(ctx, event); err != nil {
		return domain.WrapError(domain.ErrTemporary, "record search", err)
	}
	return nil
}
