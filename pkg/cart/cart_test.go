package cart

import (
	"context"
	"math"
	"testing"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGet_CreatesCartLazily(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")

	first, err := svc.Get(context.Background(), user.Identity())
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Empty(t, first.Items)
	assert.True(t, first.Subtotal.IsZero())

	second, err := svc.Get(context.Background(), user.Identity())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var carts int64
	require.NoError(t, db.Model(&models.Cart{}).Where("user_id = ?", user.ID).Count(&carts).Error)
	assert.Equal(t, int64(1), carts)
}

func TestAddItem_AccumulationIsBoundedByStock(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Chips", "1.25", 5)

	item, err := svc.AddItem(context.Background(), user.Identity(), product.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)

	_, err = svc.AddItem(context.Background(), user.Identity(), product.ID, 1)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInsufficientStock, appErr.Code)
	assert.Equal(t, "5", appErr.Details["available"])
	assert.Equal(t, "5", appErr.Details["in_cart"])

	view, err := svc.Get(context.Background(), user.Identity())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)
	assert.Equal(t, 5, view.ItemCount)
	assert.True(t, testutil.Money("6.25").Equal(view.Subtotal), view.Subtotal.String())
}

func TestAddItem_HugeQuantityOnExistingLine(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Chips", "1.25", 5)

	_, err := svc.AddItem(context.Background(), user.Identity(), product.ID, 1)
	require.NoError(t, err)

	_, err = svc.AddItem(context.Background(), user.Identity(), product.ID, math.MaxInt)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock), "%v", err)

	_, err = svc.AddItem(context.Background(), user.Identity(), product.ID, math.MaxInt-1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock), "%v", err)

	view, err := svc.Get(context.Background(), user.Identity())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Items[0].Quantity)
}

func TestAddItem_HugeQuantityOnNewLine(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Chips", "1.25", 5)

	_, err := svc.AddItem(context.Background(), user.Identity(), product.ID, math.MaxInt)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock), "%v", err)

	view, err := svc.Get(context.Background(), user.Identity())
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestAddItem_Accumulates(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Chips", "1.00", 10)

	_, err := svc.AddItem(context.Background(), user.Identity(), product.ID, 2)
	require.NoError(t, err)
	item, err := svc.AddItem(context.Background(), user.Identity(), product.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)
	assert.Equal(t, "Chips", item.Product.Name)
}

func TestAddItem_Rejections(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Chips", "1.00", 2)

	_, err := svc.AddItem(context.Background(), user.Identity(), "missing", 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "%v", err)

	_, err = svc.AddItem(context.Background(), user.Identity(), product.ID, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)

	_, err = svc.AddItem(context.Background(), user.Identity(), product.ID, 3)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock), "%v", err)
}

func TestUpdateItemQuantity(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	owner := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	other := testutil.CreateUser(t, db, "Eve", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Chips", "1.00", 4)

	item, err := svc.AddItem(context.Background(), owner.Identity(), product.ID, 1)
	require.NoError(t, err)

	updated, err := svc.UpdateItemQuantity(context.Background(), owner.Identity(), item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)

	_, err = svc.UpdateItemQuantity(context.Background(), owner.Identity(), item.ID, 5)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock), "%v", err)

	_, err = svc.UpdateItemQuantity(context.Background(), owner.Identity(), item.ID, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)

	// another user cannot touch the line, even knowing its id
	_, err = svc.UpdateItemQuantity(context.Background(), other.Identity(), item.ID, 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "%v", err)

	view, err := svc.Get(context.Background(), owner.Identity())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 4, view.Items[0].Quantity)
}

func TestRemoveItemAndClear_AreScopedToOwner(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop())
	owner := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	other := testutil.CreateUser(t, db, "Eve", models.RoleUser, "0", "0")
	tea := testutil.CreateProduct(t, db, "Tea", "1.00", 9)
	cake := testutil.CreateProduct(t, db, "Cake", "2.00", 9)

	teaLine, err := svc.AddItem(context.Background(), owner.Identity(), tea.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), owner.Identity(), cake.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), other.Identity(), tea.ID, 2)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(context.Background(), other.Identity(), teaLine.ID))
	view, err := svc.Get(context.Background(), owner.Identity())
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)

	require.NoError(t, svc.RemoveItem(context.Background(), owner.Identity(), teaLine.ID))
	view, err = svc.Get(context.Background(), owner.Identity())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, cake.ID, view.Items[0].ProductID)

	require.NoError(t, svc.Clear(context.Background(), owner.Identity()))
	view, err = svc.Get(context.Background(), owner.Identity())
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	otherView, err := svc.Get(context.Background(), other.Identity())
	require.NoError(t, err)
	require.Len(t, otherView.Items, 1)
	assert.Equal(t, 2, otherView.Items[0].Quantity)
}
