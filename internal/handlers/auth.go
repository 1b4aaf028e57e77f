package handlers

import (
	"errors"
	"net/http"
	"strings"

	"facility-risk/internal/database"
	"facility-risk/internal/middleware"
	"facility-risk/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type loginForm struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (h *Handlers) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, "malformed credentials")
		return
	}

	user, ok := database.Authenticate(h.db, strings.TrimSpace(form.Username), form.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "detail": "invalid username or password"})
		return
	}

	sess := sessions.Default(c)
	sess.Set("user_id", user.ID)
	sess.Set("role", string(user.Role))
	if err := sess.Save(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handlers) Logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Me(c *gin.Context) {
	var user models.User
	if err := h.db.Where("id = ?", middleware.Actor(c).UserID).First(&user).Error; err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type userForm struct {
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

// CreateUser registers an account; the route is restricted to admins.
func (h *Handlers) CreateUser(c *gin.Context) {
	var form userForm
	if !bind(c, &form) {
		return
	}
	form.Username = strings.TrimSpace(form.Username)
	if len(form.Username) < 3 || len(form.Password) < 6 {
		badRequest(c, "username or password too short")
		return
	}
	if !form.Role.Valid() {
		badRequest(c, "unknown role")
		return
	}

	user, err := database.CreateUser(h.db, form.Username, strings.TrimSpace(form.Email), form.Password, form.Role)
	if errors.Is(err, database.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "detail": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	a := middleware.Actor(c)
	if err := database.CreateAuditLog(h.db, a.UserID, "user", user.ID, "create", "User created: "+user.Username); err != nil {
		h.logger.Warn("audit user creation", "err", err)
	}
	c.JSON(http.StatusCreated, user)
}
