package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/audit"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cache holds product listings per country. RedisRepository implements it.
// CacheCatalog must refuse a listing whose version is older than the last
// InvalidateCatalog.
type Cache interface {
	GetCatalog(ctx context.Context, country string, dest interface{}) error
	CatalogVersion(ctx context.Context) (int64, error)
	CacheCatalog(ctx context.Context, country string, version int64, products interface{}) error
	InvalidateCatalog(ctx context.Context, countries ...string) error
}

type Service struct {
	db     *gorm.DB
	cache  Cache
	audit  audit.Recorder
	logger *zap.Logger
}

// NewService builds the catalog. cache and recorder may be nil.
func NewService(db *gorm.DB, cache Cache, recorder audit.Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{
		db:     db,
		cache:  cache,
		audit:  recorder,
		logger: logger.Named("catalog"),
	}
}

type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" swaggertype:"string"`
	Quantity    int             `json:"quantity"`
	Country     models.Country  `json:"country"`
	Image       string          `json:"image"`
}

func (in *ProductInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperrors.ErrValidation("name is required")
	}
	if !in.Price.IsPositive() {
		return apperrors.ErrValidation("price must be greater than 0")
	}
	if !models.FitsMoney(in.Price) {
		return apperrors.ErrAmountTooLarge("price", models.MaxMoney.StringFixed(2))
	}
	if in.Quantity < 0 {
		return apperrors.ErrValidation("quantity cannot be negative")
	}
	if in.Quantity > models.MaxStockQuantity {
		return apperrors.ErrAmountTooLarge("quantity", strconv.Itoa(models.MaxStockQuantity))
	}
	if !in.Country.IsValid() {
		return apperrors.ErrValidation("country must be Iraq or Syria")
	}
	return nil
}

// ProductPatch is a partial update; nil fields are left unchanged.
type ProductPatch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price" swaggertype:"string"`
	Quantity    *int             `json:"quantity"`
	Country     *models.Country  `json:"country"`
	Image       *string          `json:"image"`
}

func (p ProductPatch) apply(product *models.Product) error {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Price != nil {
		product.Price = p.Price.Round(2)
	}
	if p.Quantity != nil {
		product.Quantity = *p.Quantity
	}
	if p.Country != nil {
		product.Country = *p.Country
	}
	if p.Image != nil {
		product.Image = *p.Image
	}

	in := ProductInput{
		Name:     product.Name,
		Price:    product.Price,
		Quantity: product.Quantity,
		Country:  product.Country,
	}
	if err := in.validate(); err != nil {
		return err
	}
	product.Name = in.Name
	if product.Image == "" {
		product.Image = models.DefaultProductImage
	}
	return nil
}

func requireAdmin(caller models.CurrentUser) error {
	if !caller.IsAdmin() {
		return apperrors.ErrForbidden("only administrators can manage products")
	}
	return nil
}

// List returns products newest first, optionally limited to one country.
func (s *Service) List(ctx context.Context, country models.Country) ([]models.Product, error) {
	if country != "" && !country.IsValid() {
		return nil, apperrors.ErrValidation("country must be Iraq or Syria")
	}

	var version int64
	cacheable := s.cache != nil
	if cacheable {
		var cached []models.Product
		err := s.cache.GetCatalog(ctx, string(country), &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("Catalog cache read failed", zap.Error(err))
		}
		if version, err = s.cache.CatalogVersion(ctx); err != nil {
			s.logger.Warn("Catalog cache version read failed", zap.Error(err))
			cacheable = false
		}
	}

	q := s.db.WithContext(ctx).Order("created_at desc")
	if country != "" {
		q = q.Where("country = ?", country)
	}
	products := make([]models.Product, 0)
	if err := q.Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	if cacheable {
		err := s.cache.CacheCatalog(ctx, string(country), version, products)
		switch {
		case errors.Is(err, repository.ErrStaleCatalog):
			s.logger.Debug("Catalog changed during read, listing not cached", zap.String("country", string(country)))
		case err != nil:
			s.logger.Warn("Catalog cache write failed", zap.Error(err))
		}
	}
	return products, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound("product").WithDetail("id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (s *Service) Create(ctx context.Context, caller models.CurrentUser, in ProductInput) (*models.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	in.Price = in.Price.Round(2)
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &models.Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Quantity:    in.Quantity,
		Country:     in.Country,
		Image:       in.Image,
	}
	if p.Image == "" {
		p.Image = models.DefaultProductImage
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.changed(ctx, caller, p, "created", p.Country)
	return p, nil
}

func (s *Service) Update(ctx context.Context, caller models.CurrentUser, id string, patch ProductPatch) (*models.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	var (
		product    models.Product
		oldCountry models.Country
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound("product").WithDetail("id", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}
		oldCountry = product.Country

		if err := patch.apply(&product); err != nil {
			return err
		}
		if err := tx.Save(&product).Error; err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, caller, &product, "updated", oldCountry, product.Country)
	return &product, nil
}

// Delete removes a product and any cart lines pointing at it. Products that
// appear in order history are kept.
func (s *Service) Delete(ctx context.Context, caller models.CurrentUser, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	var product models.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound("product").WithDetail("id", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}

		var ordered int64
		if err := tx.Model(&models.OrderItem{}).Where("product_id = ?", id).Count(&ordered).Error; err != nil {
			return fmt.Errorf("failed to check order history: %w", err)
		}
		if ordered > 0 {
			return apperrors.ErrConflict("product appears in order history and cannot be deleted").
				WithDetail("id", id)
		}

		if err := tx.Where("product_id = ?", id).Delete(&models.CartItem{}).Error; err != nil {
			return fmt.Errorf("failed to remove product from carts: %w", err)
		}
		if err := tx.Delete(&product).Error; err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.changed(ctx, caller, &product, "deleted", product.Country)
	return nil
}

// Restock adds delta units to a product's stock.
func (s *Service) Restock(ctx context.Context, caller models.CurrentUser, id string, delta int) (*models.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if delta < 1 {
		return nil, apperrors.ErrValidation("restock quantity must be at least 1")
	}
	tooMuch := apperrors.ErrAmountTooLarge("quantity", strconv.Itoa(models.MaxStockQuantity))
	if delta > models.MaxStockQuantity {
		return nil, tooMuch
	}

	db := s.db.WithContext(ctx)
	res := db.Model(&models.Product{}).
		Where("id = ? AND quantity <= ?", id, models.MaxStockQuantity-delta).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to restock product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, tooMuch
	}

	product, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, caller, product, "restocked", product.Country)
	return product, nil
}

func (s *Service) changed(ctx context.Context, caller models.CurrentUser, p *models.Product, change string, countries ...models.Country) {
	if s.cache != nil {
		keys := make([]string, 0, len(countries))
		for _, c := range countries {
			keys = append(keys, string(c))
		}
		if err := s.cache.InvalidateCatalog(ctx, keys...); err != nil {
			s.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("Product changed",
		zap.String("product_id", p.ID),
		zap.String("change", change),
		zap.String("admin_id", caller.ID))

	s.audit.Record(audit.Event{
		Action:   audit.ActionProductChanged,
		ActorID:  caller.ID,
		EntityID: p.ID,
		Data: map[string]interface{}{
			"change":   change,
			"name":     p.Name,
			"price":    p.Price.StringFixed(2),
			"quantity": p.Quantity,
		},
	})
}
