// Package testutil provides store fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/repository"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite store private to the test. It
// keeps a single connection, so transactions from concurrent goroutines
// run one after another.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// TestPassword is the clear-text password of every fixture user.
const TestPassword = "secret-pass"

func CreateUser(t *testing.T, db *gorm.DB, name string, role models.Role, balance, debt string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	u := &models.User{
		Name:            name,
		Phone:           fmt.Sprintf("07%d", uuid.New().ID()),
		PasswordHash:    string(hash),
		Country:         models.CountryIraq,
		Role:            role,
		Balance:         Money(balance),
		OutstandingDebt: Money(debt),
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func CreateProduct(t *testing.T, db *gorm.DB, name, price string, quantity int) *models.Product {
	t.Helper()

	p := &models.Product{
		Name:     name,
		Price:    Money(price),
		Quantity: quantity,
		Country:  models.CountryIraq,
		Image:    models.DefaultProductImage,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// FillCart puts the given product quantities straight into the user's cart.
func FillCart(t *testing.T, db *gorm.DB, userID string, lines map[*models.Product]int) *models.Cart {
	t.Helper()

	cart := &models.Cart{UserID: userID}
	require.NoError(t, db.Where(models.Cart{UserID: userID}).FirstOrCreate(cart).Error)
	for p, qty := range lines {
		require.NoError(t, db.Create(&models.CartItem{CartID: cart.ID, ProductID: p.ID, Quantity: qty}).Error)
	}
	return cart
}

func ReloadUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, "id = ?", id).Error)
	return &u
}

func ReloadProduct(t *testing.T, db *gorm.DB, id string) *models.Product {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, "id = ?", id).Error)
	return &p
}

func PettyCashEntries(t *testing.T, db *gorm.DB) []models.PettyCash {
	t.Helper()
	var entries []models.PettyCash
	require.NoError(t, db.Order("created_at asc").Find(&entries).Error)
	return entries
}

// CreateAdminIdentity stores an administrator and returns the identity the
// gateway would attach to its requests.
func CreateAdminIdentity(t *testing.T, db *gorm.DB) models.CurrentUser {
	t.Helper()
	return CreateUser(t, db, "Admin", models.RoleAdmin, "0", "0").Identity()
}
