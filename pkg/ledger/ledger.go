// Package ledger implements the money-moving operations of the kiosk:
// checkout, debt settlement and balance top-up. Each operation runs in a
// single database transaction with the user row, then the product rows,
// locked FOR UPDATE.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/audit"
	"github.com/example/kioskshop/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *gorm.DB
	audit   audit.Recorder
	catalog CatalogInvalidator
	logger  *zap.Logger
}

// CatalogInvalidator drops cached product listings after stock moves.
type CatalogInvalidator interface {
	InvalidateCatalog(ctx context.Context, countries ...string) error
}

func NewService(db *gorm.DB, recorder audit.Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{
		db:     db,
		audit:  recorder,
		logger: logger.Named("ledger"),
	}
}

// WithCatalogInvalidation makes checkouts drop the cached listings of the
// countries whose stock they changed.
func (s *Service) WithCatalogInvalidation(inv CatalogInvalidator) *Service {
	s.catalog = inv
	return s
}

type CheckoutResult struct {
	Order          *models.Order   `json:"order"`
	HasPendingDebt bool            `json:"hasPendingDebt"`
	RemainingDebt  decimal.Decimal `json:"remainingDebt"`
	Message        string          `json:"message"`
}

type SettlementResult struct {
	UserID          string          `json:"userId"`
	AmountSettled   decimal.Decimal `json:"amountSettled"`
	RemainingDebt   decimal.Decimal `json:"remainingDebt"`
	CompletedOrders int64           `json:"completedOrders"`
	Message         string          `json:"message"`
}

type TopUpResult struct {
	UserID     string          `json:"userId"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Message    string          `json:"message"`
}

// paymentSplit routes an order total between prepaid balance and debt.
type paymentSplit struct {
	Deduction     decimal.Decimal
	RemainingDebt decimal.Decimal
	NewBalance    decimal.Decimal
}

func splitPayment(balance, total decimal.Decimal) paymentSplit {
	deduction := decimal.Min(balance, total)
	// a negative balance is never drawn on
	if deduction.IsNegative() {
		deduction = decimal.Zero
	}
	return paymentSplit{
		Deduction:     deduction,
		RemainingDebt: total.Sub(deduction),
		NewBalance:    balance.Sub(deduction),
	}
}

// normalizeAmount rounds to cents and rejects anything not strictly
// positive or too large for a money column.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.ErrInvalidAmount()
	}
	if !models.FitsMoney(amount) {
		return decimal.Zero, apperrors.ErrAmountTooLarge("amount", models.MaxMoney.StringFixed(2))
	}
	return amount, nil
}

func lockUser(tx *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound("user").WithDetail("id", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// PlaceOrder converts the caller's cart into an order. Stock is checked
// against rows locked inside the transaction, so two checkouts can never
// both take the last unit. A balance shortfall becomes outstanding debt.
func (s *Service) PlaceOrder(ctx context.Context, caller models.CurrentUser) (*CheckoutResult, error) {
	var (
		result    *CheckoutResult
		split     paymentSplit
		countries []string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, caller.ID)
		if err != nil {
			return err
		}

		var cart models.Cart
		err = tx.Where("user_id = ?", user.ID).First(&cart).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrEmptyCart()
		}
		if err != nil {
			return fmt.Errorf("failed to load cart: %w", err)
		}

		var items []models.CartItem
		if err := tx.Where("cart_id = ?", cart.ID).Order("product_id asc").Find(&items).Error; err != nil {
			return fmt.Errorf("failed to load cart items: %w", err)
		}
		if len(items) == 0 {
			return apperrors.ErrEmptyCart()
		}

		products, err := lockProducts(tx, items)
		if err != nil {
			return err
		}

		total := decimal.Zero
		orderItems := make([]models.OrderItem, 0, len(items))
		for _, item := range items {
			product, ok := products[item.ProductID]
			if !ok {
				return apperrors.ErrNotFound("product").WithDetail("id", item.ProductID)
			}
			if product.Quantity < item.Quantity {
				return apperrors.ErrInsufficientStock(product.ID, product.Name, product.Quantity)
			}
			line := models.OrderItem{
				ProductID: product.ID,
				Quantity:  item.Quantity,
				Price:     product.Price,
			}
			total = total.Add(line.LineTotal())
			orderItems = append(orderItems, line)
		}

		if !models.FitsMoney(total) {
			return apperrors.ErrAmountTooLarge("order total", models.MaxMoney.StringFixed(2))
		}
		split = splitPayment(user.Balance, total)
		hasPendingDebt := split.RemainingDebt.IsPositive()
		newDebt := user.OutstandingDebt.Add(split.RemainingDebt)
		if !models.FitsMoney(newDebt) {
			return apperrors.ErrAmountTooLarge("outstanding debt", models.MaxMoney.StringFixed(2))
		}

		status := models.OrderStatusCompleted
		if hasPendingDebt {
			status = models.OrderStatusPendingPayment
		}
		order := &models.Order{
			UserID: user.ID,
			Total:  total,
			Status: status,
			Items:  orderItems,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		seen := make(map[models.Country]bool)
		for _, line := range orderItems {
			product := products[line.ProductID]
			if err := decrementStock(tx, product, line.Quantity); err != nil {
				return err
			}
			if !seen[product.Country] {
				seen[product.Country] = true
				countries = append(countries, string(product.Country))
			}
		}

		if err := tx.Model(user).Updates(map[string]interface{}{
			"balance":          split.NewBalance,
			"outstanding_debt": newDebt,
		}).Error; err != nil {
			return fmt.Errorf("failed to update user balance: %w", err)
		}

		if split.Deduction.IsPositive() {
			if err := appendPettyCash(tx, models.PettyCashIncome, split.Deduction,
				fmt.Sprintf("Order %s by %s", order.ID, user.Name), &order.ID); err != nil {
				return err
			}
		}
		if hasPendingDebt {
			if err := appendPettyCash(tx, models.PettyCashPendingIncome, split.RemainingDebt,
				fmt.Sprintf("Pending payment for order %s by %s", order.ID, user.Name), &order.ID); err != nil {
				return err
			}
		}

		if err := tx.Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}

		if err := tx.Preload("Items.Product").First(order, "id = ?", order.ID).Error; err != nil {
			return fmt.Errorf("failed to reload order: %w", err)
		}

		result = &CheckoutResult{
			Order:          order,
			HasPendingDebt: hasPendingDebt,
			RemainingDebt:  split.RemainingDebt,
			Message:        checkoutMessage(split),
		}
		return nil
	})
	if err != nil {
		checkoutFailures.WithLabelValues(errorCode(err)).Inc()
		if _, ok := apperrors.AsAppError(err); !ok {
			s.logger.Error("Failed to place order", zap.String("user_id", caller.ID), zap.Error(err))
		}
		return nil, err
	}

	if s.catalog != nil {
		if err := s.catalog.InvalidateCatalog(ctx, countries...); err != nil {
			s.logger.Warn("Failed to invalidate catalog cache", zap.Error(err))
		}
	}

	ordersPlaced.WithLabelValues(string(result.Order.Status)).Inc()
	ledgerAmount.WithLabelValues("checkout_paid").Add(split.Deduction.InexactFloat64())
	ledgerAmount.WithLabelValues("checkout_debt").Add(split.RemainingDebt.InexactFloat64())

	s.logger.Info("Order placed",
		zap.String("order_id", result.Order.ID),
		zap.String("user_id", caller.ID),
		zap.String("total", result.Order.Total.StringFixed(2)),
		zap.String("status", string(result.Order.Status)))

	s.audit.Record(audit.Event{
		Action:   audit.ActionPlaceOrder,
		ActorID:  caller.ID,
		EntityID: result.Order.ID,
		Data: map[string]interface{}{
			"total":          result.Order.Total.StringFixed(2),
			"paid":           split.Deduction.StringFixed(2),
			"remaining_debt": split.RemainingDebt.StringFixed(2),
			"status":         string(result.Order.Status),
			"items":          len(result.Order.Items),
		},
	})

	return result, nil
}

func checkoutMessage(split paymentSplit) string {
	if split.RemainingDebt.IsPositive() {
		return fmt.Sprintf("Order placed. $%s was charged to your balance and $%s was added to your outstanding debt",
			split.Deduction.StringFixed(2), split.RemainingDebt.StringFixed(2))
	}
	return "Order placed successfully"
}

// lockProducts locks every product in the cart in ascending id order, the
// same order for every checkout.
func lockProducts(tx *gorm.DB, items []models.CartItem) (map[string]*models.Product, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)

	var products []models.Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).Order("id asc").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}

	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return byID, nil
}

// decrementStock is guarded by the row lock and by the WHERE clause, so the
// quantity cannot go below zero even where row locks are unavailable.
func decrementStock(tx *gorm.DB, product *models.Product, quantity int) error {
	res := tx.Model(&models.Product{}).
		Where("id = ? AND quantity >= ?", product.ID, quantity).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("failed to decrement stock: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return apperrors.ErrInsufficientStock(product.ID, product.Name, product.Quantity)
	}
	return nil
}

func appendPettyCash(tx *gorm.DB, typ models.PettyCashType, amount decimal.Decimal, description string, orderID *string) error {
	entry := &models.PettyCash{
		Amount:         amount,
		Description:    description,
		Type:           typ,
		RelatedOrderID: orderID,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append petty cash entry: %w", err)
	}
	return nil
}

// SettleDebt applies an admin-recorded payment against a user's debt. The
// amount is clamped to the debt; any excess is discarded. When the debt
// reaches zero every pending order of the user is completed.
func (s *Service) SettleDebt(ctx context.Context, caller models.CurrentUser, userID string, amount decimal.Decimal) (*SettlementResult, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can settle debt")
	}
	amount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}

	var result *SettlementResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if !user.OutstandingDebt.IsPositive() {
			return apperrors.ErrNoDebt()
		}

		settled := decimal.Min(user.OutstandingDebt, amount)
		remaining := user.OutstandingDebt.Sub(settled)

		if err := tx.Model(user).Update("outstanding_debt", remaining).Error; err != nil {
			return fmt.Errorf("failed to update outstanding debt: %w", err)
		}
		if err := appendPettyCash(tx, models.PettyCashIncome, settled,
			fmt.Sprintf("Debt settlement from %s", user.Name), nil); err != nil {
			return err
		}

		var completed int64
		if remaining.IsZero() {
			res := tx.Model(&models.Order{}).
				Where("user_id = ? AND status = ?", user.ID, models.OrderStatusPendingPayment).
				Update("status", models.OrderStatusCompleted)
			if res.Error != nil {
				return fmt.Errorf("failed to complete pending orders: %w", res.Error)
			}
			completed = res.RowsAffected
		}

		result = &SettlementResult{
			UserID:          user.ID,
			AmountSettled:   settled,
			RemainingDebt:   remaining,
			CompletedOrders: completed,
			Message: fmt.Sprintf("Settled $%s of %s's debt. Remaining debt: $%s",
				settled.StringFixed(2), user.Name, remaining.StringFixed(2)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ledgerAmount.WithLabelValues("settlement").Add(result.AmountSettled.InexactFloat64())
	s.logger.Info("Debt settled",
		zap.String("user_id", result.UserID),
		zap.String("admin_id", caller.ID),
		zap.String("settled", result.AmountSettled.StringFixed(2)),
		zap.String("remaining", result.RemainingDebt.StringFixed(2)))

	s.audit.Record(audit.Event{
		Action:   audit.ActionSettleDebt,
		ActorID:  caller.ID,
		EntityID: result.UserID,
		Data: map[string]interface{}{
			"requested":        amount.StringFixed(2),
			"settled":          result.AmountSettled.StringFixed(2),
			"remaining_debt":   result.RemainingDebt.StringFixed(2),
			"completed_orders": result.CompletedOrders,
		},
	})
	return result, nil
}

// AddBalance credits a user's prepaid balance. The credit is funded from the
// till, so it is journalled as an expense.
func (s *Service) AddBalance(ctx context.Context, caller models.CurrentUser, userID string, amount decimal.Decimal) (*TopUpResult, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can add balance")
	}
	amount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}

	var result *TopUpResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}

		newBalance := user.Balance.Add(amount)
		if !models.FitsMoney(newBalance) {
			return apperrors.ErrAmountTooLarge("balance", models.MaxMoney.StringFixed(2)).
				WithDetail("current_balance", user.Balance.StringFixed(2))
		}
		if err := tx.Model(user).Update("balance", newBalance).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if err := appendPettyCash(tx, models.PettyCashExpense, amount,
			fmt.Sprintf("Added balance for %s", user.Name), nil); err != nil {
			return err
		}

		result = &TopUpResult{
			UserID:     user.ID,
			Amount:     amount,
			NewBalance: newBalance,
			Message: fmt.Sprintf("Successfully added $%s to %s's balance",
				amount.StringFixed(2), user.Name),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ledgerAmount.WithLabelValues("top_up").Add(amount.InexactFloat64())
	s.logger.Info("Balance added",
		zap.String("user_id", result.UserID),
		zap.String("admin_id", caller.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("new_balance", result.NewBalance.StringFixed(2)))

	s.audit.Record(audit.Event{
		Action:   audit.ActionAddBalance,
		ActorID:  caller.ID,
		EntityID: result.UserID,
		Data: map[string]interface{}{
			"amount":      amount.StringFixed(2),
			"new_balance": result.NewBalance.StringFixed(2),
		},
	})
	return result, nil
}

func errorCode(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Code
	}
	return apperrors.CodeInternalError
}
