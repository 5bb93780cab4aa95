package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Country string

const (
	CountryIraq  Country = "Iraq"
	CountrySyria Country = "Syria"
)

func (c Country) IsValid() bool {
	return c == CountryIraq || c == CountrySyria
}

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is both the identity record and the head of the account ledger.
// Balance and OutstandingDebt are only written by the ledger operations.
type User struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name            string          `gorm:"type:varchar(100);not null" json:"name"`
	Phone           string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"phone"`
	PasswordHash    string          `gorm:"type:varchar(100);not null" json:"-"`
	Country         Country         `gorm:"type:varchar(20);not null" json:"country"`
	Role            Role            `gorm:"type:varchar(10);not null;default:'USER'" json:"role"`
	Balance         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	OutstandingDebt decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"outstandingDebt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CurrentUser is the authenticated caller, resolved once per request and
// passed explicitly into every service call.
type CurrentUser struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Country Country `json:"country"`
	Role    Role    `json:"role"`
}

func (c CurrentUser) IsAdmin() bool {
	return c.Role == RoleAdmin
}

func (u *User) Identity() CurrentUser {
	return CurrentUser{
		ID:      u.ID,
		Name:    u.Name,
		Phone:   u.Phone,
		Country: u.Country,
		Role:    u.Role,
	}
}
