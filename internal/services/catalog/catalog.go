// Package catalog provides product browsing with a short-lived detail cache
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/models"
)

// ErrVariantNotFound is returned when no variant matches the requested options
var ErrVariantNotFound = errors.New("no variant matches the requested size and color")

// API is the part of the commerce API the catalog uses
type API interface {
	ListProducts(ctx context.Context, query api.ProductQuery) (*models.ProductPage, error)
	Product(ctx context.Context, slug string) (*models.ProductDetail, error)
}

// Config holds service configuration
type Config struct {
	CacheTTL time.Duration
	Logger   *slog.Logger
}

type entry struct {
	product   *models.ProductDetail
	fetchedAt time.Time
}

// Service fetches products and caches product details
type Service struct {
	api      API
	cache    map[string]entry
	cacheTTL time.Duration
	mu       sync.RWMutex
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new catalog service
func NewService(client API, cfg Config) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		api:      client,
		cache:    make(map[string]entry),
		cacheTTL: cfg.CacheTTL,
		log:      cfg.Logger,
		now:      time.Now,
	}
}

// List fetches one page of products. Lists are not cached.
func (s *Service) List(ctx context.Context, query api.ProductQuery) (*models.ProductPage, error) {
	page, err := s.api.ListProducts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return page, nil
}

// Product returns a product with its variants by slug
func (s *Service) Product(ctx context.Context, slug string) (*models.ProductDetail, error) {
	// Check cache first
	s.mu.RLock()
	if cached, ok := s.cache[slug]; ok && s.now().Sub(cached.fetchedAt) < s.cacheTTL {
		s.mu.RUnlock()
		return cached.product, nil
	}
	s.mu.RUnlock()

	product, err := s.api.Product(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product %s: %w", slug, err)
	}

	s.mu.Lock()
	s.cache[slug] = entry{product: product, fetchedAt: s.now()}
	s.mu.Unlock()

	s.log.Debug("cached product", "slug", slug)
	return product, nil
}

// Products fetches several products concurrently. The first failure cancels
// the remaining lookups.
func (s *Service) Products(ctx context.Context, slugs []string) (map[string]*models.ProductDetail, error) {
	products := make(map[string]*models.ProductDetail, len(slugs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, slug := range slugs {
		g.Go(func() error {
			product, err := s.Product(ctx, slug)
			if err != nil {
				return err
			}
			mu.Lock()
			products[slug] = product
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// Resolve returns the cart snapshot of a product and the variant matching
// size and color. With neither given the line has no variant.
func (s *Service) Resolve(ctx context.Context, slug, size, color string) (models.Product, *models.Variant, error) {
	product, err := s.Product(ctx, slug)
	if err != nil {
		return models.Product{}, nil, err
	}
	if size == "" && color == "" {
		return product.Product, nil, nil
	}

	variant, ok := product.FindVariant("", size, color)
	if !ok {
		return models.Product{}, nil, fmt.Errorf("%s (size %q, color %q): %w", slug, size, color, ErrVariantNotFound)
	}
	v := *variant
	return product.Product, &v, nil
}
