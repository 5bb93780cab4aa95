package pettycash

import (
	"context"
	"testing"
	"time"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func seed(t *testing.T, db *gorm.DB, typ models.PettyCashType, amount, description string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.PettyCash{
		Amount:      testutil.Money(amount),
		Description: description,
		Type:        typ,
		CreatedAt:   at,
	}).Error)
}

func TestRecord(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, nil, zap.NewNop())
	admin := testutil.CreateAdminIdentity(t, db)

	entry, err := svc.Record(context.Background(), admin, Entry{
		Amount:      testutil.Money("12.345"),
		Description: "  Bought cups ",
		Type:        models.PettyCashExpense,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bought cups", entry.Description)
	assert.Equal(t, "12.35", entry.Amount.StringFixed(2))

	tests := []struct {
		name string
		in   Entry
		code string
	}{
		{"zero amount", Entry{Amount: testutil.Money("0"), Description: "x", Type: models.PettyCashIncome}, apperrors.CodeValidationError},
		{"amount beyond money column", Entry{Amount: testutil.Money("10000000000"), Description: "x", Type: models.PettyCashIncome}, apperrors.CodeValidationError},
		{"missing description", Entry{Amount: testutil.Money("1"), Type: models.PettyCashIncome}, apperrors.CodeValidationError},
		{"pending income is not manual", Entry{Amount: testutil.Money("1"), Description: "x", Type: models.PettyCashPendingIncome}, apperrors.CodeValidationError},
		{"unknown type", Entry{Amount: testutil.Money("1"), Description: "x", Type: "REFUND"}, apperrors.CodeValidationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Record(context.Background(), admin, tt.in)
			assert.True(t, apperrors.HasCode(err, tt.code), "%v", err)
		})
	}

	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0").Identity()
	_, err = svc.Record(context.Background(), user, Entry{Amount: testutil.Money("1"), Description: "x", Type: models.PettyCashIncome})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestList_TotalIsIncomeMinusExpense(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, nil, zap.NewNop())
	admin := testutil.CreateAdminIdentity(t, db)

	seed(t, db, models.PettyCashIncome, "50", "Order 1 by Ali", day(1))
	seed(t, db, models.PettyCashExpense, "20", "Added balance for Sara", day(2))
	seed(t, db, models.PettyCashPendingIncome, "7", "Pending payment for order 2", day(3))

	ledger, err := svc.List(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, ledger.Entries, 3)
	assert.Equal(t, "30.00", ledger.Total.StringFixed(2))
	assert.Equal(t, models.PettyCashPendingIncome, ledger.Entries[0].Type, "newest first")
}

func TestHistory_Filters(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, nil, zap.NewNop())
	admin := testutil.CreateAdminIdentity(t, db)

	seed(t, db, models.PettyCashIncome, "10", "Order A by Ali", day(1).Add(12*time.Hour))
	seed(t, db, models.PettyCashIncome, "15", "Debt settlement from Sara", day(5).Add(9*time.Hour))
	seed(t, db, models.PettyCashExpense, "4", "Cleaning supplies", day(5).Add(18*time.Hour))
	seed(t, db, models.PettyCashPendingIncome, "6", "Pending payment for order B by Omar", day(6).Add(8*time.Hour))
	seed(t, db, models.PettyCashIncome, "99", "Order C by Ali", day(9).Add(12*time.Hour))

	t.Run("end date is inclusive", func(t *testing.T) {
		start, end := day(5), day(6)
		h, err := svc.History(context.Background(), admin, Filter{Start: &start, End: &end})
		require.NoError(t, err)
		assert.Equal(t, 3, h.Summary.TransactionCount)
		assert.Equal(t, "15.00", h.Summary.TotalIncome.StringFixed(2))
		assert.Equal(t, "4.00", h.Summary.TotalExpense.StringFixed(2))
		assert.Equal(t, "6.00", h.Summary.PendingIncome.StringFixed(2))
		assert.Equal(t, "11.00", h.Summary.NetBalance.StringFixed(2))
	})

	t.Run("type and case-insensitive search", func(t *testing.T) {
		h, err := svc.History(context.Background(), admin, Filter{Type: models.PettyCashIncome, Search: "ali"})
		require.NoError(t, err)
		require.Len(t, h.Transactions, 2)
		assert.Equal(t, "Order C by Ali", h.Transactions[0].Description)
		assert.Equal(t, "109.00", h.Summary.TotalIncome.StringFixed(2))
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := svc.History(context.Background(), admin, Filter{Type: "BOGUS"})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError))
	})
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.NetBalance.IsZero())
	assert.Zero(t, s.TransactionCount)
}
