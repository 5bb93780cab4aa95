package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/pettycash"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Timeframe string

const (
	Today Timeframe = "today"
	Week  Timeframe = "week"
	Month Timeframe = "month"
	All   Timeframe = "all"
)

const topProducts = 10

type Service struct {
	db                *gorm.DB
	lowStockThreshold int
	now               func() time.Time
}

func NewService(db *gorm.DB, lowStockThreshold int) *Service {
	if lowStockThreshold <= 0 {
		lowStockThreshold = 10
	}
	return &Service{db: db, lowStockThreshold: lowStockThreshold, now: time.Now}
}

type Sales struct {
	Total decimal.Decimal `json:"total"`
	Count int64           `json:"count"`
}

type Products struct {
	Total     int64            `json:"total"`
	LowStock  int64            `json:"lowStock"`
	ByCountry map[string]int64 `json:"byCountry"`
}

type CountrySales struct {
	Country string          `json:"country"`
	Sales   decimal.Decimal `json:"sales"`
	Orders  int64           `json:"orders"`
}

type ProductSales struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Country     string          `json:"country"`
	Quantity    int64           `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type InventoryLine struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Country     string `json:"country"`
	InStock     int    `json:"inStock"`
	Sold        int64  `json:"sold"`
}

type Summary struct {
	Timeframe       Timeframe         `json:"timeframe"`
	Sales           Sales             `json:"sales"`
	Products        Products          `json:"products"`
	Users           int64             `json:"users"`
	SalesByCountry  []CountrySales    `json:"salesByCountry"`
	SalesByProduct  []ProductSales    `json:"salesByProduct"`
	InventoryStatus []InventoryLine   `json:"inventoryStatus"`
	PettyCash       pettycash.Summary `json:"pettyCashSummary"`
}

func (s *Service) since(tf Timeframe) (*time.Time, error) {
	now := s.now()
	var start time.Time
	switch tf {
	case All, "":
		return nil, nil
	case Today:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case Week:
		start = now.AddDate(0, 0, -7)
	case Month:
		start = now.AddDate(0, -1, 0)
	default:
		return nil, apperrors.ErrValidation("timeframe must be one of today, week, month, all")
	}
	return &start, nil
}

// Summary aggregates sales, stock, users and till movements. Sales and till
// figures are limited to the timeframe; stock and user counts are current.
func (s *Service) Summary(ctx context.Context, caller models.CurrentUser, tf Timeframe) (*Summary, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can view reports")
	}
	start, err := s.since(tf)
	if err != nil {
		return nil, err
	}
	if tf == "" {
		tf = All
	}

	db := s.db.WithContext(ctx)
	out := &Summary{Timeframe: tf}

	if out.Sales, err = s.sales(db, start); err != nil {
		return nil, err
	}
	if out.Products, err = s.products(db); err != nil {
		return nil, err
	}
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleUser).Count(&out.Users).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if out.SalesByCountry, err = salesByCountry(db, start); err != nil {
		return nil, err
	}

	perProduct, err := salesByProduct(db, start)
	if err != nil {
		return nil, err
	}
	out.SalesByProduct = perProduct
	if len(out.SalesByProduct) > topProducts {
		out.SalesByProduct = out.SalesByProduct[:topProducts]
	}
	if out.InventoryStatus, err = inventory(db, perProduct); err != nil {
		return nil, err
	}

	q := db.Model(&models.PettyCash{})
	if start != nil {
		q = q.Where("created_at >= ?", *start)
	}
	var entries []models.PettyCash
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load petty cash: %w", err)
	}
	out.PettyCash = pettycash.Summarize(entries)

	return out, nil
}

func (s *Service) sales(db *gorm.DB, start *time.Time) (Sales, error) {
	var row struct {
		Total decimal.Decimal
		Count int64
	}
	q := db.Model(&models.Order{}).Select("COALESCE(SUM(total), 0) AS total, COUNT(*) AS count")
	if start != nil {
		q = q.Where("created_at >= ?", *start)
	}
	if err := q.Scan(&row).Error; err != nil {
		return Sales{}, fmt.Errorf("failed to aggregate sales: %w", err)
	}
	return Sales{Total: row.Total.Round(2), Count: row.Count}, nil
}

func (s *Service) products(db *gorm.DB) (Products, error) {
	out := Products{ByCountry: map[string]int64{
		string(models.CountryIraq):  0,
		string(models.CountrySyria): 0,
	}}
	if err := db.Model(&models.Product{}).Count(&out.Total).Error; err != nil {
		return out, fmt.Errorf("failed to count products: %w", err)
	}
	if err := db.Model(&models.Product{}).Where("quantity < ?", s.lowStockThreshold).Count(&out.LowStock).Error; err != nil {
		return out, fmt.Errorf("failed to count low stock: %w", err)
	}

	var rows []struct {
		Country string
		N       int64
	}
	if err := db.Model(&models.Product{}).Select("country, COUNT(*) AS n").Group("country").Scan(&rows).Error; err != nil {
		return out, fmt.Errorf("failed to count products by country: %w", err)
	}
	for _, r := range rows {
		out.ByCountry[r.Country] = r.N
	}
	return out, nil
}

// soldLines joins order lines to their product and order, restricted to
// orders placed since start.
func soldLines(db *gorm.DB, start *time.Time) *gorm.DB {
	q := db.Table("order_items").
		Joins("JOIN products ON products.id = order_items.product_id").
		Joins("JOIN orders ON orders.id = order_items.order_id")
	if start != nil {
		q = q.Where("orders.created_at >= ?", *start)
	}
	return q
}

func salesByCountry(db *gorm.DB, start *time.Time) ([]CountrySales, error) {
	out := make([]CountrySales, 0)
	err := soldLines(db, start).
		Select("products.country AS country, " +
			"COALESCE(SUM(order_items.price * order_items.quantity), 0) AS sales, " +
			"COUNT(DISTINCT order_items.order_id) AS orders").
		Group("products.country").
		Order("products.country").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sales by country: %w", err)
	}
	for i := range out {
		out[i].Sales = out[i].Sales.Round(2)
	}
	return out, nil
}

// salesByProduct returns every sold product, highest revenue first.
func salesByProduct(db *gorm.DB, start *time.Time) ([]ProductSales, error) {
	out := make([]ProductSales, 0)
	err := soldLines(db, start).
		Select("order_items.product_id AS product_id, products.name AS product_name, " +
			"products.country AS country, SUM(order_items.quantity) AS quantity, " +
			"SUM(order_items.price * order_items.quantity) AS revenue").
		Group("order_items.product_id, products.name, products.country").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sales by product: %w", err)
	}
	for i := range out {
		out[i].Revenue = out[i].Revenue.Round(2)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].ProductName < out[j].ProductName
	})
	return out, nil
}

func inventory(db *gorm.DB, sold []ProductSales) ([]InventoryLine, error) {
	var products []models.Product
	if err := db.Order("quantity asc, name asc").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}

	soldByID := make(map[string]int64, len(sold))
	for _, s := range sold {
		soldByID[s.ProductID] = s.Quantity
	}

	out := make([]InventoryLine, 0, len(products))
	for _, p := range products {
		out = append(out, InventoryLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Country:     string(p.Country),
			InStock:     p.Quantity,
			Sold:        soldByID[p.ID],
		})
	}
	return out, nil
}
