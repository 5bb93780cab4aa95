package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ListOrders returns the caller's orders, newest first. Administrators see
// every order together with its buyer.
func (s *Service) ListOrders(ctx context.Context, caller models.CurrentUser) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Preload("Items.Product").Order("created_at desc")
	if caller.IsAdmin() {
		q = q.Preload("User")
	} else {
		q = q.Where("user_id = ?", caller.ID)
	}

	orders := make([]models.Order, 0)
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

type BalanceView struct {
	Balance         decimal.Decimal `json:"balance"`
	OutstandingDebt decimal.Decimal `json:"outstandingDebt"`
}

func (s *Service) Balance(ctx context.Context, caller models.CurrentUser) (*BalanceView, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("balance", "outstanding_debt").First(&user, "id = ?", caller.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound("user").WithDetail("id", caller.ID)
		}
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	return &BalanceView{Balance: user.Balance, OutstandingDebt: user.OutstandingDebt}, nil
}
