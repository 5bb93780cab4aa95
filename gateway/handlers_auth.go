package gateway

import (
	"net/http"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/auth"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary Register a customer
// @Tags auth
// @Accept json
// @Produce json
// @Param request body auth.RegisterInput true "request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /auth/register [post]
func (g *Gateway) register(c *gin.Context) {
	var req auth.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	user, err := g.services.Auth.Register(c.Request.Context(), req)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"user": user})
}

// @Summary Register an administrator
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body auth.RegisterInput true "request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /auth/admin/register [post]
func (g *Gateway) registerAdmin(c *gin.Context) {
	var req auth.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("invalid request body").Wrap(err))
		return
	}

	user, err := g.services.Auth.RegisterAdmin(c.Request.Context(), mustUser(c), req)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"user": user})
}

// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body gateway.loginRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /auth/login [post]
func (g *Gateway) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("phone and password are required"))
		return
	}

	session, err := g.services.Auth.Login(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      session.User,
	})
}

// @Summary Log in as an administrator
// @Tags auth
// @Accept json
// @Produce json
// @Param request body gateway.loginRequest true "request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /auth/admin/login [post]
func (g *Gateway) adminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, apperrors.ErrValidation("phone and password are required"))
		return
	}

	session, err := g.services.Auth.AdminLogin(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      session.User,
	})
}

// Tokens are stateless; the client drops its copy.
//
// @Summary Log out
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /auth/logout [post]
func (g *Gateway) logout(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// @Summary Current user profile
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /user/me [get]
func (g *Gateway) me(c *gin.Context) {
	user, err := g.services.Auth.Profile(c.Request.Context(), mustUser(c))
	if err != nil {
		g.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": user})
}
