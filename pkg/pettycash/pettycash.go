package pettycash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/audit"
	"github.com/example/kioskshop/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	audit  audit.Recorder
	logger *zap.Logger
}

func NewService(db *gorm.DB, recorder audit.Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{db: db, audit: recorder, logger: logger.Named("petty-cash")}
}

type Entry struct {
	Amount      decimal.Decimal      `json:"amount" swaggertype:"string"`
	Description string               `json:"description"`
	Type        models.PettyCashType `json:"type"`
}

// Record appends a manual till movement. Pending income is only ever
// written by checkout.
func (s *Service) Record(ctx context.Context, caller models.CurrentUser, in Entry) (*models.PettyCash, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can record petty cash")
	}
	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperrors.ErrInvalidAmount()
	}
	if !models.FitsMoney(amount) {
		return nil, apperrors.ErrAmountTooLarge("amount", models.MaxMoney.StringFixed(2))
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, apperrors.ErrValidation("description is required")
	}
	if in.Type != models.PettyCashIncome && in.Type != models.PettyCashExpense {
		return nil, apperrors.ErrValidation("type must be INCOME or EXPENSE")
	}

	entry := &models.PettyCash{
		Amount:      amount,
		Description: description,
		Type:        in.Type,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record petty cash: %w", err)
	}

	s.logger.Info("Petty cash recorded",
		zap.String("id", entry.ID),
		zap.String("type", string(entry.Type)),
		zap.String("amount", amount.StringFixed(2)))
	s.audit.Record(audit.Event{
		Action:   audit.ActionPettyCash,
		ActorID:  caller.ID,
		EntityID: entry.ID,
		Data: map[string]interface{}{
			"type":   string(entry.Type),
			"amount": amount.StringFixed(2),
		},
	})
	return entry, nil
}

type Ledger struct {
	Entries []models.PettyCash `json:"entries"`
	Total   decimal.Decimal    `json:"total"`
}

// List returns every entry newest first with the cash in the till.
func (s *Service) List(ctx context.Context, caller models.CurrentUser) (*Ledger, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can view petty cash")
	}

	entries := make([]models.PettyCash, 0)
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list petty cash: %w", err)
	}
	return &Ledger{Entries: entries, Total: Summarize(entries).NetBalance}, nil
}

type Filter struct {
	Start  *time.Time
	End    *time.Time
	Type   models.PettyCashType
	Search string
}

type Summary struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpense     decimal.Decimal `json:"totalExpense"`
	PendingIncome    decimal.Decimal `json:"pendingIncome"`
	NetBalance       decimal.Decimal `json:"netBalance"`
	TransactionCount int             `json:"transactionCount"`
}

// Summarize totals entries. Pending income is reported separately and
// never counts as cash.
func Summarize(entries []models.PettyCash) Summary {
	sum := Summary{
		TotalIncome:      decimal.Zero,
		TotalExpense:     decimal.Zero,
		PendingIncome:    decimal.Zero,
		TransactionCount: len(entries),
	}
	for _, e := range entries {
		switch e.Type {
		case models.PettyCashIncome:
			sum.TotalIncome = sum.TotalIncome.Add(e.Amount)
		case models.PettyCashExpense:
			sum.TotalExpense = sum.TotalExpense.Add(e.Amount)
		case models.PettyCashPendingIncome:
			sum.PendingIncome = sum.PendingIncome.Add(e.Amount)
		}
	}
	sum.NetBalance = sum.TotalIncome.Sub(sum.TotalExpense)
	return sum
}

type History struct {
	Transactions []models.PettyCash `json:"transactions"`
	Summary      Summary            `json:"summary"`
}

// History filters entries by date range, type and description. End is a
// calendar day and is inclusive.
func (s *Service) History(ctx context.Context, caller models.CurrentUser, f Filter) (*History, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can view petty cash")
	}
	if f.Type != "" && f.Type != models.PettyCashIncome && f.Type != models.PettyCashExpense && f.Type != models.PettyCashPendingIncome {
		return nil, apperrors.ErrValidation("unknown petty cash type")
	}

	q := s.db.WithContext(ctx).Order("created_at desc")
	if f.Start != nil {
		q = q.Where("created_at >= ?", *f.Start)
	}
	if f.End != nil {
		q = q.Where("created_at < ?", f.End.AddDate(0, 0, 1))
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		q = q.Where("LOWER(description) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	entries := make([]models.PettyCash, 0)
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load petty cash history: %w", err)
	}
	return &History{Transactions: entries, Summary: Summarize(entries)}, nil
}
