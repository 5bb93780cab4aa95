//go:build integration

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/config"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/repository"
	"github.com/example/kioskshop/pkg/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerMySQLSuite runs checkouts against a real MySQL, where FOR UPDATE
// row locks and the guarded stock decrement are enforced by InnoDB.
type LedgerMySQLSuite struct {
	suite.Suite
	ctx       context.Context
	container *mysql.MySQLContainer
	db        *gorm.DB
	svc       *Service
}

func (s *LedgerMySQLSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := mysql.Run(s.ctx, "mysql:8.0.36",
		mysql.WithDatabase("kiosk"),
		mysql.WithUsername("kiosk"),
		mysql.WithPassword("kiosk"),
	)
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "3306/tcp")
	s.Require().NoError(err)

	db, err := repository.NewMySQL(&config.MySQLConfig{
		Host:         host,
		Port:         port.Int(),
		Username:     "kiosk",
		Password:     "kiosk",
		Database:     "kiosk",
		MaxIdleConns: 5,
		MaxOpenConns: 20,
	})
	s.Require().NoError(err)
	s.db = db
	s.svc = NewService(db, nil, zap.NewNop())
}

func (s *LedgerMySQLSuite) TearDownSuite() {
	if s.db != nil {
		_ = repository.CloseDB(s.db)
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *LedgerMySQLSuite) TestConcurrentCheckoutsForLastUnits() {
	t := s.T()
	product := testutil.CreateProduct(t, s.db, "Falafel Wrap", "2.50", 3)

	buyers := make([]*models.User, 8)
	for i := range buyers {
		buyers[i] = testutil.CreateUser(t, s.db, "Buyer", models.RoleUser, "5", "0")
		testutil.FillCart(t, s.db, buyers[i].ID, map[*models.Product]int{product: 1})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, who models.CurrentUser) {
			defer wg.Done()
			_, errs[i] = s.svc.PlaceOrder(s.ctx, who)
		}(i, b.Identity())
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(apperrors.HasCode(err, apperrors.CodeInsufficientStock), "%v", err)
	}
	s.Equal(3, succeeded)
	s.Equal(0, testutil.ReloadProduct(t, s.db, product.ID).Quantity)

	var orders int64
	s.Require().NoError(s.db.Model(&models.OrderItem{}).Where("product_id = ?", product.ID).Count(&orders).Error)
	s.Equal(int64(3), orders)
}

func (s *LedgerMySQLSuite) TestCheckoutAndSettlementOnSameAccount() {
	t := s.T()
	admin := testutil.CreateAdminIdentity(t, s.db)
	user := testutil.CreateUser(t, s.db, "Omar", models.RoleUser, "1", "0")
	product := testutil.CreateProduct(t, s.db, "Tea", "4.00", 10)
	testutil.FillCart(t, s.db, user.ID, map[*models.Product]int{product: 1})

	placed, err := s.svc.PlaceOrder(s.ctx, user.Identity())
	s.Require().NoError(err)
	s.True(placed.HasPendingDebt)
	s.True(testutil.Money("3").Equal(placed.RemainingDebt), placed.RemainingDebt.String())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.SettleDebt(s.ctx, admin, user.ID, testutil.Money("3"))
		}(i)
	}
	wg.Wait()

	var settled, noDebt int
	for _, err := range errs {
		switch {
		case err == nil:
			settled++
		case apperrors.HasCode(err, apperrors.CodeNoDebt):
			noDebt++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, settled)
	s.Equal(1, noDebt)

	reloaded := testutil.ReloadUser(t, s.db, user.ID)
	s.True(reloaded.OutstandingDebt.IsZero(), reloaded.OutstandingDebt.String())
}

func TestLedgerMySQLSuite(t *testing.T) {
	suite.Run(t, new(LedgerMySQLSuite))
}
