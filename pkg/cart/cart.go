package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger.Named("cart")}
}

// View is the cart as returned to its owner, priced at live product prices.
type View struct {
	ID        string            `json:"id"`
	Items     []models.CartItem `json:"items"`
	ItemCount int               `json:"itemCount"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
}

// ensureCart returns the user's cart, creating it on first use. Concurrent
// first accesses converge on the same row through the unique user index.
func ensureCart(tx *gorm.DB, userID string) (*models.Cart, error) {
	fresh := models.Cart{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	var cart models.Cart
	if err := tx.Where("user_id = ?", userID).First(&cart).Error; err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return &cart, nil
}

func ownCartIDs(tx *gorm.DB, userID string) *gorm.DB {
	return tx.Model(&models.Cart{}).Select("id").Where("user_id = ?", userID)
}

func lockProduct(tx *gorm.DB, productID string) (*models.Product, error) {
	var p models.Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound("product").WithDetail("id", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &p, nil
}

func (s *Service) Get(ctx context.Context, caller models.CurrentUser) (*View, error) {
	var view *View
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := ensureCart(tx, caller.ID)
		if err != nil {
			return err
		}
		if err := tx.Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("cart_items.created_at asc")
		}).Preload("Items.Product").First(cart, "id = ?", cart.ID).Error; err != nil {
			return fmt.Errorf("failed to load cart items: %w", err)
		}

		count := 0
		for _, item := range cart.Items {
			count += item.Quantity
		}
		view = &View{
			ID:        cart.ID,
			Items:     cart.Items,
			ItemCount: count,
			Subtotal:  cart.Subtotal(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if view.Items == nil {
		view.Items = []models.CartItem{}
	}
	return view, nil
}

// AddItem puts quantity units of a product in the cart. An existing line
// accumulates, and the accumulated quantity must still fit in stock.
func (s *Service) AddItem(ctx context.Context, caller models.CurrentUser, productID string, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, apperrors.ErrValidation("quantity must be at least 1")
	}

	var item models.CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := lockProduct(tx, productID)
		if err != nil {
			return err
		}
		cart, err := ensureCart(tx, caller.ID)
		if err != nil {
			return err
		}

		err = tx.Where("cart_id = ? AND product_id = ?", cart.ID, product.ID).First(&item).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if quantity > product.Quantity {
				return apperrors.ErrInsufficientStock(product.ID, product.Name, product.Quantity)
			}
			item = models.CartItem{CartID: cart.ID, ProductID: product.ID, Quantity: quantity}
			if err := tx.Omit("Product").Create(&item).Error; err != nil {
				return fmt.Errorf("failed to add cart item: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to load cart item: %w", err)
		default:
			// compared against the headroom so a huge quantity cannot wrap
			if quantity > product.Quantity-item.Quantity {
				return apperrors.ErrInsufficientStock(product.ID, product.Name, product.Quantity).
					WithDetail("in_cart", fmt.Sprint(item.Quantity))
			}
			total := item.Quantity + quantity
			if err := tx.Model(&item).Update("quantity", total).Error; err != nil {
				return fmt.Errorf("failed to update cart item: %w", err)
			}
			item.Quantity = total
		}

		item.Product = *product
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.String("user_id", caller.ID),
		zap.String("product_id", productID),
		zap.Int("quantity", item.Quantity))
	return &item, nil
}

// UpdateItemQuantity replaces the quantity of a line in the caller's own cart.
func (s *Service) UpdateItemQuantity(ctx context.Context, caller models.CurrentUser, itemID string, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, apperrors.ErrValidation("quantity must be at least 1")
	}

	var item models.CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND cart_id IN (?)", itemID, ownCartIDs(tx, caller.ID)).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound("cart item").WithDetail("id", itemID)
		}
		if err != nil {
			return fmt.Errorf("failed to load cart item: %w", err)
		}

		product, err := lockProduct(tx, item.ProductID)
		if err != nil {
			return err
		}
		if quantity > product.Quantity {
			return apperrors.ErrInsufficientStock(product.ID, product.Name, product.Quantity)
		}
		if err := tx.Model(&item).Update("quantity", quantity).Error; err != nil {
			return fmt.Errorf("failed to update cart item: %w", err)
		}
		item.Quantity = quantity
		item.Product = *product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveItem deletes a line from the caller's cart. Lines in other carts are
// left untouched.
func (s *Service) RemoveItem(ctx context.Context, caller models.CurrentUser, itemID string) error {
	db := s.db.WithContext(ctx)
	err := db.Where("id = ? AND cart_id IN (?)", itemID, ownCartIDs(db, caller.ID)).
		Delete(&models.CartItem{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, caller models.CurrentUser) error {
	db := s.db.WithContext(ctx)
	err := db.Where("cart_id IN (?)", ownCartIDs(db, caller.ID)).Delete(&models.CartItem{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
