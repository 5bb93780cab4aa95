package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/kioskshop/pkg/auth"
	"github.com/example/kioskshop/pkg/cart"
	"github.com/example/kioskshop/pkg/catalog"
	"github.com/example/kioskshop/pkg/config"
	"github.com/example/kioskshop/pkg/ledger"
	"github.com/example/kioskshop/pkg/pettycash"
	"github.com/example/kioskshop/pkg/reports"
	"github.com/example/kioskshop/pkg/repository"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

type Services struct {
	Auth      *auth.Service
	Catalog   *catalog.Service
	Cart      *cart.Service
	Ledger    *ledger.Service
	PettyCash *pettycash.Service
	Reports   *reports.Service
}

// IdempotencyStore reserves client-supplied keys. RedisRepository implements it.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string, ttl time.Duration) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type AuditFinder interface {
	Find(ctx context.Context, q repository.AuditQuery) ([]*repository.AuditLog, error)
}

// HealthCheck reports whether one backing store is reachable.
type HealthCheck func(ctx context.Context) error

// Options carries the optional collaborators. Nil members disable the
// feature that needs them.
type Options struct {
	Idempotency IdempotencyStore
	Audit       AuditFinder
	Checks      map[string]HealthCheck
}

type Gateway struct {
	config   *config.Config
	services Services
	opts     Options
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
}

func NewGateway(cfg *config.Config, logger *zap.Logger, services Services, opts Options) *Gateway {
	gin.SetMode(cfg.Gateway.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(logger))
	router.Use(metricsMiddleware())

	return &Gateway{
		config:   cfg,
		services: services,
		opts:     opts,
		logger:   logger,
		router:   router,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", g.health)
	g.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := g.requireAuth()
	admin := g.requireAdmin()

	v1 := g.router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", g.register)
			authRoutes.POST("/login", g.login)
			authRoutes.POST("/admin/login", g.adminLogin)
			authRoutes.POST("/admin/register", authed, admin, g.registerAdmin)
			authRoutes.POST("/logout", authed, g.logout)
		}

		v1.GET("/user/me", authed, g.me)

		products := v1.Group("/products")
		{
			products.GET("", g.listProducts)
			products.GET("/:id", g.getProduct)
			products.POST("", authed, admin, g.createProduct)
			products.PATCH("/:id", authed, admin, g.updateProduct)
			products.DELETE("/:id", authed, admin, g.deleteProduct)
			products.POST("/:id/restock", authed, admin, g.restockProduct)
		}

		cartRoutes := v1.Group("/cart", authed)
		{
			cartRoutes.GET("", g.getCart)
			cartRoutes.POST("", g.addCartItem)
			cartRoutes.DELETE("", g.clearCart)
			cartRoutes.PATCH("/:id", g.updateCartItem)
			cartRoutes.DELETE("/:id", g.removeCartItem)
		}

		orders := v1.Group("/orders", authed)
		{
			orders.GET("", g.listOrders)
			orders.POST("", g.placeOrder)
		}

		v1.GET("/balance", authed, g.getBalance)
		v1.POST("/balance", authed, admin, g.addBalance)
		v1.POST("/users/settle-debt", authed, admin, g.settleDebt)

		petty := v1.Group("/petty-cash", authed, admin)
		{
			petty.GET("", g.listPettyCash)
			petty.POST("", g.recordPettyCash)
			petty.GET("/history", g.pettyCashHistory)
		}

		adminRoutes := v1.Group("/admin", authed, admin)
		{
			adminRoutes.GET("/users", g.listUsers)
			adminRoutes.GET("/reports", g.reportSummary)
			adminRoutes.GET("/audit/:entityId", g.auditTrail)
		}
	}

	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Gateway.Host, g.config.Gateway.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range g.opts.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
