package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/model"
)

const userKey = "user"

type authenticator interface {
	Verify(ctx context.Context, token string) (model.User, error)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authenticate resolves the caller the same way the gateway handshake does.
func authenticate(v authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.Verify(c.Request.Context(), auth.ExtractToken(c.Request))
		if err != nil {
			fail(c, err)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func caller(c *gin.Context) model.User {
	return c.MustGet(userKey).(model.User)
}

var statusByKind = map[chaterr.Kind]int{
	chaterr.KindAuth:          http.StatusUnauthorized,
	chaterr.KindValidation:    http.StatusBadRequest,
	chaterr.KindAuthorization: http.StatusForbidden,
	chaterr.KindConflict:      http.StatusConflict,
	chaterr.KindNotFound:      http.StatusNotFound,
	chaterr.KindStorage:       http.StatusServiceUnavailable,
}

func fail(c *gin.Context, err error) {
	e, ok := chaterr.As(err)
	if !ok {
		e = chaterr.Storage(err, c.FullPath())
	}
	if e.Kind == chaterr.KindStorage {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(statusByKind[e.Kind], model.ErrorNotice{Code: e.Code(), Message: e.Message})
}
