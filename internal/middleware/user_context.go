package middleware

import (
	"facility-risk/internal/auth"
	"facility-risk/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const actorKey = "actor"

// InjectActor turns the session into an auth.Context. Sessions of users that
// were deactivated or whose role changed since login are dropped.
func InjectActor(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)

		if uid, ok := sess.Get("user_id").(string); ok && uid != "" {
			var user models.User
			err := db.WithContext(c.Request.Context()).
				Where("id = ? AND active = ?", uid, true).
				First(&user).Error
			role, _ := sess.Get("role").(string)
			if err == nil && string(user.Role) == role {
				c.Set(actorKey, auth.New(user.ID, user.Role))
			} else {
				sess.Clear()
				_ = sess.Save()
			}
		}

		c.Next()
	}
}

// Actor returns the acting user, or the zero Context for anonymous requests.
func Actor(c *gin.Context) auth.Context {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(auth.Context); ok {
			return a
		}
	}
	return auth.Context{}
}
