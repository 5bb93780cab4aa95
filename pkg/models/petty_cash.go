package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PettyCashType string

const (
	PettyCashIncome        PettyCashType = "INCOME"
	PettyCashExpense       PettyCashType = "EXPENSE"
	PettyCashPendingIncome PettyCashType = "PENDING_INCOME"
)

// PettyCash is an append-only till journal row. Nothing updates or deletes
// these rows.
type PettyCash struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Description    string          `gorm:"type:varchar(255);not null" json:"description"`
	Type           PettyCashType   `gorm:"type:varchar(20);not null;index" json:"type"`
	RelatedOrderID *string         `gorm:"type:varchar(36);index" json:"relatedOrderId,omitempty"`
	CreatedAt      time.Time       `gorm:"index" json:"createdAt"`
}

func (PettyCash) TableName() string {
	return "petty_cash"
}

func (p *PettyCash) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// All returns every model managed by the schema, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Product{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&PettyCash{},
	}
}
