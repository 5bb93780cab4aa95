package gateway

import (
	"net/http"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/catalog"
	"github.com/example/kioskshop/pkg/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @Summary List products
// @Tags products
// @Produce json
// @Param country query string false "Iraq or Syria"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products [get]
func (g *Gateway) listProducts(c *gin.Context) {
	products, err := g.services.Catalog.List(c.Request.Context(), models.Country(c.Query("country")))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"products": products})
}

// @Summary Get a product
// @Tags products
// @Produce json
// @Param id path string true "product id"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id} [get]
func (g *Gateway) getProduct(c *gin.Context) {
	product, err := g.services.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"product": product})
}

// @Summary Create a product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body catalog.ProductInput true "request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /products [post]
func (g *Gateway) createProduct(c *gin.Context) {
	var req catalog.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	product, err := g.services.Catalog.Create(c.Request.Context(), mustUser(c), req)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"product": product})
}

// @Summary Update a product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "product id"
// @Param request body catalog.ProductPatch true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id} [patch]
func (g *Gateway) updateProduct(c *gin.Context) {
	var req catalog.ProductPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	product, err := g.services.Catalog.Update(c.Request.Context(), mustUser(c), c.Param("id"), req)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"product": product})
}

// @Summary Delete a product
// @Tags products
// @Produce json
// @Security BearerAuth
// @Param id path string true "product id"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /products/{id} [delete]
func (g *Gateway) deleteProduct(c *gin.Context) {
	if err := g.services.Catalog.Delete(c.Request.Context(), mustUser(c), c.Param("id")); err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Product deleted"})
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// @Summary Add stock to a product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "product id"
// @Param request body gateway.quantityRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /products/{id}/restock [post]
func (g *Gateway) restockProduct(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	product, err := g.services.Catalog.Restock(c.Request.Context(), mustUser(c), c.Param("id"), req.Quantity)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"product": product})
}

// @Summary Get the caller's cart
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /cart [get]
func (g *Gateway) getCart(c *gin.Context) {
	view, err := g.services.Cart.Get(c.Request.Context(), mustUser(c))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"cart": view})
}

type addCartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  *int   `json:"quantity"`
}

// @Summary Add a product to the cart
// @Tags cart
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body gateway.addCartItemRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /cart [post]
func (g *Gateway) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("productId is required"))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	item, err := g.services.Cart.AddItem(c.Request.Context(), mustUser(c), req.ProductID, quantity)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"item": item})
}

// @Summary Change a cart line quantity
// @Tags cart
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "cart item id"
// @Param request body gateway.quantityRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /cart/{id} [patch]
func (g *Gateway) updateCartItem(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	item, err := g.services.Cart.UpdateItemQuantity(c.Request.Context(), mustUser(c), c.Param("id"), req.Quantity)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"item": item})
}

// @Summary Remove a cart line
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Param id path string true "cart item id"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /cart/{id} [delete]
func (g *Gateway) removeCartItem(c *gin.Context) {
	if err := g.services.Cart.RemoveItem(c.Request.Context(), mustUser(c), c.Param("id")); err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Item removed from cart"})
}

// @Summary Empty the cart
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /cart [delete]
func (g *Gateway) clearCart(c *gin.Context) {
	if err := g.services.Cart.Clear(c.Request.Context(), mustUser(c)); err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Cart cleared"})
}

// @Summary List orders
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders [get]
func (g *Gateway) listOrders(c *gin.Context) {
	orders, err := g.services.Ledger.ListOrders(c.Request.Context(), mustUser(c))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"orders": orders})
}

const idempotencyScope = "place-order"

// placeOrder checks out the caller's cart. An Idempotency-Key header makes
// a retried request answer 409 with the order the first attempt created.
//
// @Summary Check out the cart
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "client retry key"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /orders [post]
func (g *Gateway) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()
	user := mustUser(c)

	key := c.GetHeader(headerIdempotency)
	idem := g.opts.Idempotency
	if key == "" {
		idem = nil
	}
	scope := idempotencyScope + ":" + user.ID
	ttl := g.config.Idempotency.TTL

	if idem != nil {
		if orderID, ok, err := idem.Recall(ctx, scope, key); err != nil {
			g.logger.Warn("Idempotency recall failed", zap.Error(err))
		} else if ok {
			g.respondError(c, apperrors.ErrConflict("request already processed").WithDetail("order_id", orderID))
			return
		}

		locked, err := idem.TryLock(ctx, scope, key, ttl)
		switch {
		case err != nil:
			g.logger.Warn("Idempotency lock failed, continuing without it", zap.Error(err))
			idem = nil
		case !locked:
			g.respondError(c, apperrors.ErrConflict("a request with this idempotency key is in progress"))
			return
		}
	}

	result, err := g.services.Ledger.PlaceOrder(ctx, user)
	if err != nil {
		if idem != nil {
			if rerr := idem.Release(ctx, scope, key); rerr != nil {
				g.logger.Warn("Idempotency release failed", zap.Error(rerr))
			}
		}
		g.respondError(c, err)
		return
	}

	if idem != nil {
		if err := idem.Remember(ctx, scope, key, result.Order.ID, ttl); err != nil {
			g.logger.Warn("Idempotency remember failed", zap.Error(err))
		}
	}

	respond(c, http.StatusCreated, gin.H{
		"order":          result.Order,
		"hasPendingDebt": result.HasPendingDebt,
		"remainingDebt":  result.RemainingDebt,
		"message":        result.Message,
	})
}

// @Summary Caller's balance and debt
// @Tags balance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /balance [get]
func (g *Gateway) getBalance(c *gin.Context) {
	view, err := g.services.Ledger.Balance(c.Request.Context(), mustUser(c))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"balance":         view.Balance,
		"outstandingDebt": view.OutstandingDebt,
	})
}
