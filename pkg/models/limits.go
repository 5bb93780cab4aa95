package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxMoney is the largest value a decimal(12,2) money column holds.
var MaxMoney = decimal.New(999999999999, -2)

// MaxStockQuantity caps product stock and every quantity derived from it.
const MaxStockQuantity = math.MaxInt32

// FitsMoney reports whether d can be stored in a money column.
func FitsMoney(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(MaxMoney)
}
