package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/pkg/helpers"
	"github.com/oksasatya/homekeep/pkg/response"
)

// Context keys set by Auth and OptionalAuth.
const (
	CtxUserID    = "userID"
	CtxSessionID = "sessionID"
	CtxUserName  = "userName"
	CtxUserEmail = "userEmail"
)

func sessionKey(uid string) string { return "user:session:" + uid }

type authFailure struct {
	msg string
	err error
}

// authenticate resolves the caller from the access token and the Redis
// session. The token's sid must match the live session so logout and
// refresh rotation revoke older tokens.
func authenticate(c *gin.Context, rdb *redis.Client, jwt *helpers.JWTManager) *authFailure {
	token := helpers.AccessToken(c)
	if token == "" {
		return &authFailure{msg: "missing access token"}
	}
	claims, err := jwt.ParseAccessToken(token)
	if err != nil {
		return &authFailure{msg: "invalid access token", err: err}
	}
	if rdb == nil {
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxSessionID, claims.SessionID)
		return nil
	}
	data, err := rdb.HGetAll(c.Request.Context(), sessionKey(claims.UserID)).Result()
	if err != nil || len(data) == 0 {
		return &authFailure{msg: "session not found"}
	}
	if data["sid"] != claims.SessionID {
		return &authFailure{msg: "session revoked"}
	}
	c.Set(CtxUserID, data["user_id"])
	c.Set(CtxSessionID, claims.SessionID)
	c.Set(CtxUserName, data["name"])
	c.Set(CtxUserEmail, data["email"])
	return nil
}

// Auth validates access token and ensures an active session exists in Redis.
// It sets userID, sessionID, userName, and userEmail in the Gin context on success.
func Auth(rdb *redis.Client, jwt *helpers.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if f := authenticate(c, rdb, jwt); f != nil {
			body := response.ErrorBody{Category: string(apperr.InvalidCredentials), Code: "unauthorized"}
			if f.err != nil {
				body.Details = f.err.Error()
			}
			response.Abort(c, http.StatusUnauthorized, f.msg, body)
			return
		}
		c.Next()
	}
}

// OptionalAuth sets the caller when a valid session is presented and
// otherwise continues anonymously.
func OptionalAuth(rdb *redis.Client, jwt *helpers.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = authenticate(c, rdb, jwt)
		c.Next()
	}
}
