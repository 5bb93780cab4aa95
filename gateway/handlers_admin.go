package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/pettycash"
	"github.com/example/kioskshop/pkg/reports"
	"github.com/example/kioskshop/pkg/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type amountRequest struct {
	UserID string          `json:"userId" binding:"required"`
	Amount decimal.Decimal `json:"amount" swaggertype:"string"`
}

// @Summary Top up a user's balance
// @Tags balance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body gateway.amountRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /balance [post]
func (g *Gateway) addBalance(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("userId and amount are required"))
		return
	}

	res, err := g.services.Ledger.AddBalance(c.Request.Context(), mustUser(c), req.UserID, req.Amount)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message":    res.Message,
		"userId":     res.UserID,
		"amount":     res.Amount,
		"newBalance": res.NewBalance,
	})
}

// @Summary Settle a user's debt
// @Tags balance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body gateway.amountRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /users/settle-debt [post]
func (g *Gateway) settleDebt(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("userId and amount are required"))
		return
	}

	res, err := g.services.Ledger.SettleDebt(c.Request.Context(), mustUser(c), req.UserID, req.Amount)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message":         res.Message,
		"amountSettled":   res.AmountSettled,
		"remainingDebt":   res.RemainingDebt,
		"completedOrders": res.CompletedOrders,
	})
}

// @Summary List petty cash entries
// @Tags petty-cash
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /petty-cash [get]
func (g *Gateway) listPettyCash(c *gin.Context) {
	ledger, err := g.services.PettyCash.List(c.Request.Context(), mustUser(c))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"pettyCash": ledger.Entries,
		"total":     ledger.Total,
	})
}

// @Summary Record a petty cash entry
// @Tags petty-cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body pettycash.Entry true "request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /petty-cash [post]
func (g *Gateway) recordPettyCash(c *gin.Context) {
	var req pettycash.Entry
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	entry, err := g.services.PettyCash.Record(c.Request.Context(), mustUser(c), req)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"pettyCash": entry})
}

const dateLayout = "2006-01-02"

func parseDate(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return nil, apperrors.ErrValidation(name + " must be a YYYY-MM-DD date")
	}
	return &t, nil
}

// @Summary Filtered petty cash history
// @Tags petty-cash
// @Produce json
// @Security BearerAuth
// @Param startDate query string false "YYYY-MM-DD"
// @Param endDate query string false "YYYY-MM-DD, inclusive"
// @Param type query string false "INCOME, EXPENSE or PENDING_INCOME"
// @Param search query string false "description contains"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /petty-cash/history [get]
func (g *Gateway) pettyCashHistory(c *gin.Context) {
	start, err := parseDate(c, "startDate")
	if err != nil {
		g.respondError(c, err)
		return
	}
	end, err := parseDate(c, "endDate")
	if err != nil {
		g.respondError(c, err)
		return
	}

	history, err := g.services.PettyCash.History(c.Request.Context(), mustUser(c), pettycash.Filter{
		Start:  start,
		End:    end,
		Type:   models.PettyCashType(c.Query("type")),
		Search: c.Query("search"),
	})
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"transactions": history.Transactions,
		"summary":      history.Summary,
	})
}

// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /admin/users [get]
func (g *Gateway) listUsers(c *gin.Context) {
	users, err := g.services.Auth.ListUsers(c.Request.Context(), mustUser(c))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"users": users})
}

// @Summary Sales and inventory summary
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param timeframe query string false "today, week, month or all"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /admin/reports [get]
func (g *Gateway) reportSummary(c *gin.Context) {
	summary, err := g.services.Reports.Summary(c.Request.Context(), mustUser(c), reports.Timeframe(c.DefaultQuery("timeframe", "all")))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"data": summary})
}

// @Summary Audit trail of an entity or actor
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param entityId path string true "entity or actor id"
// @Param action query string false "action filter"
// @Param limit query integer false "at most 500"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /admin/audit/{entityId} [get]
func (g *Gateway) auditTrail(c *gin.Context) {
	if g.opts.Audit == nil {
		g.respondError(c, apperrors.ErrUnavailable("audit trail is not configured"))
		return
	}

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil {
		g.respondError(c, apperrors.ErrValidation("limit must be a number"))
		return
	}

	logs, err := g.opts.Audit.Find(c.Request.Context(), repository.AuditQuery{
		EntityID: c.Param("entityId"),
		Action:   c.Query("action"),
		Limit:    limit,
	})
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"entries": logs})
}
