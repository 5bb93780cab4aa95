package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/audit"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingAudit) {
	t.Helper()
	db := testutil.NewDB(t)
	rec := &recordingAudit{}
	return NewService(db, rec, zap.NewNop()), db, rec
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, testutil.Money(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func entriesOfType(t *testing.T, db *gorm.DB, typ models.PettyCashType) []models.PettyCash {
	t.Helper()
	var out []models.PettyCash
	for _, e := range testutil.PettyCashEntries(t, db) {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func cartItemCount(t *testing.T, db *gorm.DB, cartID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.CartItem{}).Where("cart_id = ?", cartID).Count(&n).Error)
	return n
}

func TestSplitPayment(t *testing.T) {
	tests := []struct {
		name                          string
		balance, total                string
		deduction, debt, finalBalance string
	}{
		{"balance covers total", "10", "8", "8", "0", "2"},
		{"exact balance", "8", "8", "8", "0", "0"},
		{"partial balance", "5", "8", "5", "3", "0"},
		{"no balance", "0", "8", "0", "8", "0"},
		{"negative balance is not drawn", "-2", "8", "0", "8", "-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitPayment(testutil.Money(tt.balance), testutil.Money(tt.total))
			assertMoney(t, tt.deduction, got.Deduction)
			assertMoney(t, tt.debt, got.RemainingDebt)
			assertMoney(t, tt.finalBalance, got.NewBalance)
			assertMoney(t, tt.total, got.Deduction.Add(got.RemainingDebt))
		})
	}
}

func TestPlaceOrder_BalanceCoversTotal(t *testing.T) {
	svc, db, rec := newTestService(t)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "10", "0")
	product := testutil.CreateProduct(t, db, "Tea", "4.00", 5)
	cart := testutil.FillCart(t, db, user.ID, map[*models.Product]int{product: 2})

	res, err := svc.PlaceOrder(context.Background(), user.Identity())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCompleted, res.Order.Status)
	assert.False(t, res.HasPendingDebt)
	assertMoney(t, "8", res.Order.Total)
	assertMoney(t, "0", res.RemainingDebt)
	require.Len(t, res.Order.Items, 1)
	assertMoney(t, "4", res.Order.Items[0].Price)
	require.NotNil(t, res.Order.Items[0].Product)
	assert.Equal(t, "Tea", res.Order.Items[0].Product.Name)

	u := testutil.ReloadUser(t, db, user.ID)
	assertMoney(t, "2", u.Balance)
	assertMoney(t, "0", u.OutstandingDebt)
	assert.Equal(t, 3, testutil.ReloadProduct(t, db, product.ID).Quantity)
	assert.Zero(t, cartItemCount(t, db, cart.ID))

	income := entriesOfType(t, db, models.PettyCashIncome)
	require.Len(t, income, 1)
	assertMoney(t, "8", income[0].Amount)
	require.NotNil(t, income[0].RelatedOrderID)
	assert.Equal(t, res.Order.ID, *income[0].RelatedOrderID)
	assert.Contains(t, income[0].Description, "by Ali")
	assert.Empty(t, entriesOfType(t, db, models.PettyCashPendingIncome))

	assert.Equal(t, []string{audit.ActionPlaceOrder}, rec.actions())
}

func TestPlaceOrder_ShortfallBecomesDebt(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := testutil.CreateUser(t, db, "Sara", models.RoleUser, "5", "0")
	product := testutil.CreateProduct(t, db, "Coffee", "8.00", 1)
	testutil.FillCart(t, db, user.ID, map[*models.Product]int{product: 1})

	res, err := svc.PlaceOrder(context.Background(), user.Identity())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPendingPayment, res.Order.Status)
	assert.True(t, res.HasPendingDebt)
	assertMoney(t, "3", res.RemainingDebt)
	assert.Contains(t, res.Message, "3.00")

	u := testutil.ReloadUser(t, db, user.ID)
	assertMoney(t, "0", u.Balance)
	assertMoney(t, "3", u.OutstandingDebt)
	assert.Equal(t, 0, testutil.ReloadProduct(t, db, product.ID).Quantity)

	income := entriesOfType(t, db, models.PettyCashIncome)
	require.Len(t, income, 1)
	assertMoney(t, "5", income[0].Amount)

	pending := entriesOfType(t, db, models.PettyCashPendingIncome)
	require.Len(t, pending, 1)
	assertMoney(t, "3", pending[0].Amount)
	require.NotNil(t, pending[0].RelatedOrderID)
	assert.Equal(t, res.Order.ID, *pending[0].RelatedOrderID)
}

func TestPlaceOrder_ZeroBalanceSkipsIncomeEntry(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := testutil.CreateUser(t, db, "Omar", models.RoleUser, "0", "2")
	product := testutil.CreateProduct(t, db, "Juice", "2.50", 4)
	testutil.FillCart(t, db, user.ID, map[*models.Product]int{product: 2})

	res, err := svc.PlaceOrder(context.Background(), user.Identity())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, res.Order.Status)

	u := testutil.ReloadUser(t, db, user.ID)
	assertMoney(t, "7", u.OutstandingDebt)
	assert.Empty(t, entriesOfType(t, db, models.PettyCashIncome))
	require.Len(t, entriesOfType(t, db, models.PettyCashPendingIncome), 1)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	svc, db, rec := newTestService(t)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "10", "0")

	_, err := svc.PlaceOrder(context.Background(), user.Identity())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEmptyCart), "no cart: %v", err)

	testutil.FillCart(t, db, user.ID, nil)
	_, err = svc.PlaceOrder(context.Background(), user.Identity())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEmptyCart), "cart without items: %v", err)

	var orders int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
	assertMoney(t, "10", testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Empty(t, testutil.PettyCashEntries(t, db))
	assert.Empty(t, rec.actions())
}

func TestPlaceOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	svc, db, rec := newTestService(t)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "100", "0")
	plenty := testutil.CreateProduct(t, db, "Water", "1.00", 10)
	scarce := testutil.CreateProduct(t, db, "Cake", "3.00", 1)
	cart := testutil.FillCart(t, db, user.ID, map[*models.Product]int{plenty: 2, scarce: 1})

	// stock sold elsewhere after the item went into the cart
	require.NoError(t, db.Model(scarce).Update("quantity", 0).Error)

	_, err := svc.PlaceOrder(context.Background(), user.Identity())
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInsufficientStock, appErr.Code)
	assert.Equal(t, "Cake", appErr.Details["product_name"])

	assert.Equal(t, 10, testutil.ReloadProduct(t, db, plenty.ID).Quantity)
	assertMoney(t, "100", testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Equal(t, int64(2), cartItemCount(t, db, cart.ID))
	assert.Empty(t, testutil.PettyCashEntries(t, db))
	assert.Empty(t, rec.actions())
}

func TestPlaceOrder_ConcurrentCheckoutsForLastUnit(t *testing.T) {
	svc, db, _ := newTestService(t)
	product := testutil.CreateProduct(t, db, "Last Sandwich", "5.00", 1)

	buyers := make([]*models.User, 2)
	for i := range buyers {
		buyers[i] = testutil.CreateUser(t, db, "Buyer", models.RoleUser, "10", "0")
		testutil.FillCart(t, db, buyers[i].ID, map[*models.Product]int{product: 1})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, who models.CurrentUser) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), who)
		}(i, b.Identity())
	}
	wg.Wait()

	var succeeded, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.HasCode(err, apperrors.CodeInsufficientStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, outOfStock)
	assert.Equal(t, 0, testutil.ReloadProduct(t, db, product.ID).Quantity)
}

func TestSettleDebt(t *testing.T) {
	svc, db, rec := newTestService(t)
	admin := testutil.CreateAdminIdentity(t, db)
	user := testutil.CreateUser(t, db, "Sara", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Coffee", "8.00", 5)
	testutil.FillCart(t, db, user.ID, map[*models.Product]int{product: 1})

	placed, err := svc.PlaceOrder(context.Background(), user.Identity())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPendingPayment, placed.Order.Status)

	t.Run("partial payment keeps order pending", func(t *testing.T) {
		res, err := svc.SettleDebt(context.Background(), admin, user.ID, testutil.Money("5"))
		require.NoError(t, err)
		assertMoney(t, "5", res.AmountSettled)
		assertMoney(t, "3", res.RemainingDebt)
		assert.Zero(t, res.CompletedOrders)

		var order models.Order
		require.NoError(t, db.First(&order, "id = ?", placed.Order.ID).Error)
		assert.Equal(t, models.OrderStatusPendingPayment, order.Status)
	})

	t.Run("overpayment is clamped and completes orders", func(t *testing.T) {
		res, err := svc.SettleDebt(context.Background(), admin, user.ID, testutil.Money("10"))
		require.NoError(t, err)
		assertMoney(t, "3", res.AmountSettled)
		assertMoney(t, "0", res.RemainingDebt)
		assert.Equal(t, int64(1), res.CompletedOrders)

		var order models.Order
		require.NoError(t, db.First(&order, "id = ?", placed.Order.ID).Error)
		assert.Equal(t, models.OrderStatusCompleted, order.Status)

		u := testutil.ReloadUser(t, db, user.ID)
		assertMoney(t, "0", u.OutstandingDebt)
		assertMoney(t, "0", u.Balance)
	})

	t.Run("no debt left", func(t *testing.T) {
		_, err := svc.SettleDebt(context.Background(), admin, user.ID, testutil.Money("1"))
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNoDebt), "%v", err)
	})

	settlements := 0
	for _, e := range entriesOfType(t, db, models.PettyCashIncome) {
		if e.Description == "Debt settlement from Sara" {
			settlements++
		}
	}
	assert.Equal(t, 2, settlements)
	assert.Equal(t, []string{audit.ActionPlaceOrder, audit.ActionSettleDebt, audit.ActionSettleDebt}, rec.actions())
}

func TestSettleDebt_Rejections(t *testing.T) {
	svc, db, _ := newTestService(t)
	admin := testutil.CreateAdminIdentity(t, db)
	user := testutil.CreateUser(t, db, "Sara", models.RoleUser, "0", "4")

	tests := []struct {
		name   string
		caller models.CurrentUser
		userID string
		amount string
		code   string
	}{
		{"zero amount", admin, user.ID, "0", apperrors.CodeValidationError},
		{"negative amount", admin, user.ID, "-1", apperrors.CodeValidationError},
		{"rounds to zero", admin, user.ID, "0.001", apperrors.CodeValidationError},
		{"not an admin", user.Identity(), user.ID, "1", apperrors.CodeForbidden},
		{"unknown user", admin, "missing", "1", apperrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SettleDebt(context.Background(), tt.caller, tt.userID, testutil.Money(tt.amount))
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	assertMoney(t, "4", testutil.ReloadUser(t, db, user.ID).OutstandingDebt)
	assert.Empty(t, testutil.PettyCashEntries(t, db))
}

func TestAddBalance(t *testing.T) {
	svc, db, rec := newTestService(t)
	admin := testutil.CreateAdminIdentity(t, db)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "2.50", "1")

	res, err := svc.AddBalance(context.Background(), admin, user.ID, testutil.Money("20"))
	require.NoError(t, err)
	assertMoney(t, "22.5", res.NewBalance)
	assertMoney(t, "20", res.Amount)
	assert.Contains(t, res.Message, "20.00")

	u := testutil.ReloadUser(t, db, user.ID)
	assertMoney(t, "22.5", u.Balance)
	assertMoney(t, "1", u.OutstandingDebt)

	expenses := entriesOfType(t, db, models.PettyCashExpense)
	require.Len(t, expenses, 1)
	assertMoney(t, "20", expenses[0].Amount)
	assert.Equal(t, "Added balance for Ali", expenses[0].Description)
	assert.Equal(t, []string{audit.ActionAddBalance}, rec.actions())

	_, err = svc.AddBalance(context.Background(), user.Identity(), user.ID, testutil.Money("5"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = svc.AddBalance(context.Background(), admin, user.ID, testutil.Money("-5"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError))

	_, err = svc.AddBalance(context.Background(), admin, "missing", testutil.Money("5"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestListOrdersAndBalance(t *testing.T) {
	svc, db, _ := newTestService(t)
	admin := testutil.CreateAdminIdentity(t, db)
	product := testutil.CreateProduct(t, db, "Tea", "1.00", 10)

	alice := testutil.CreateUser(t, db, "Alice", models.RoleUser, "10", "0")
	bob := testutil.CreateUser(t, db, "Bob", models.RoleUser, "10", "0")
	for _, u := range []*models.User{alice, bob} {
		testutil.FillCart(t, db, u.ID, map[*models.Product]int{product: 1})
		_, err := svc.PlaceOrder(context.Background(), u.Identity())
		require.NoError(t, err)
	}

	own, err := svc.ListOrders(context.Background(), alice.Identity())
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, alice.ID, own[0].UserID)
	assert.Nil(t, own[0].User)

	all, err := svc.ListOrders(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, o := range all {
		require.NotNil(t, o.User)
		require.Len(t, o.Items, 1)
		require.NotNil(t, o.Items[0].Product)
	}

	bal, err := svc.Balance(context.Background(), bob.Identity())
	require.NoError(t, err)
	assertMoney(t, "9", bal.Balance)
	assertMoney(t, "0", bal.OutstandingDebt)
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{"rounds to cents", "3.456", "3.46", true},
		{"largest storable", "9999999999.99", "9999999999.99", true},
		{"one cent over", "10000000000.00", "", false},
		{"far over", "100000000000000", "", false},
		{"zero", "0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeAmount(testutil.Money(tt.in))
			if !tt.valid {
				assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)
				return
			}
			require.NoError(t, err)
			assertMoney(t, tt.want, got)
		})
	}
}

func TestAddBalance_RejectsAmountsBeyondMoneyColumn(t *testing.T) {
	svc, db, rec := newTestService(t)
	admin := testutil.CreateAdminIdentity(t, db)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "9999999999.00", "0")

	_, err := svc.AddBalance(context.Background(), admin, user.ID, testutil.Money("100000000000000"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)

	_, err = svc.AddBalance(context.Background(), admin, user.ID, testutil.Money("1.00"))
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, "balance", appErr.Details["field"])
	assert.Equal(t, "9999999999.99", appErr.Details["max"])

	res, err := svc.AddBalance(context.Background(), admin, user.ID, testutil.Money("0.99"))
	require.NoError(t, err)
	assertMoney(t, "9999999999.99", res.NewBalance)

	require.Len(t, entriesOfType(t, db, models.PettyCashExpense), 1)
	assert.Equal(t, []string{audit.ActionAddBalance}, rec.actions())
}

func TestSettleDebt_RejectsAmountsBeyondMoneyColumn(t *testing.T) {
	svc, db, _ := newTestService(t)
	admin := testutil.CreateAdminIdentity(t, db)
	user := testutil.CreateUser(t, db, "Sara", models.RoleUser, "0", "4")

	_, err := svc.SettleDebt(context.Background(), admin, user.ID, testutil.Money("10000000000"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)
	assertMoney(t, "4", testutil.ReloadUser(t, db, user.ID).OutstandingDebt)
}

func TestPlaceOrder_TotalBeyondMoneyColumnIsRejected(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "0")
	product := testutil.CreateProduct(t, db, "Gold Bar", "9999999999.99", 5)
	cart := testutil.FillCart(t, db, user.ID, map[*models.Product]int{product: 2})

	_, err := svc.PlaceOrder(context.Background(), user.Identity())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)

	assert.Equal(t, 5, testutil.ReloadProduct(t, db, product.ID).Quantity)
	assert.Equal(t, int64(1), cartItemCount(t, db, cart.ID))
	assert.Empty(t, testutil.PettyCashEntries(t, db))
}

func TestPlaceOrder_DebtBeyondMoneyColumnIsRejected(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := testutil.CreateUser(t, db, "Ali", models.RoleUser, "0", "9999999999.00")
	product := testutil.CreateProduct(t, db, "Tea", "1.50", 5)
	testutil.FillCart(t, db, user.ID, map[*models.Product]int{product: 1})

	_, err := svc.PlaceOrder(context.Background(), user.Identity())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError), "%v", err)
	assertMoney(t, "9999999999", testutil.ReloadUser(t, db, user.ID).OutstandingDebt)
}
