package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/store"
)

func businessBySlug(ctx context.Context, s store.Store, slug string) (models.Business, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return models.Business{}, fmt.Errorf("--business is required")
	}
	b, ok, err := s.BusinessBySlug(ctx, slug)
	if err != nil {
		return models.Business{}, err
	}
	if !ok {
		return models.Business{}, fmt.Errorf("business %q: %w", slug, store.ErrNotFound)
	}
	return b, nil
}
