package backend

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/common"
	"github.com/jo-hoe/buracos/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	SessionCookieName = "session"

	userContextKey  = "user"
	tokenContextKey = "session_token"
)

// LoadUser resolves the session cookie or bearer token of every request and
// stores the user in the echo context. Invalid sessions are treated as
// anonymous; handlers decide whether a user is required.
func LoadUser(coreService *core.CoreService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token := requestToken(ctx)
			if token == "" {
				return next(ctx)
			}
			ctx.Set(tokenContextKey, token)

			user, err := coreService.Authenticate(ctx.Request().Context(), token)
			switch {
			case err == nil:
				ctx.Set(userContextKey, user)
			case errors.Is(err, common.ErrUnauthenticated):
				slog.Debug("ignoring invalid session", "path", ctx.Path(), "error", err)
			default:
				slog.Error("failed to resolve session", "path", ctx.Path(), "error", err)
			}
			return next(ctx)
		}
	}
}

func requestToken(ctx echo.Context) string {
	if header := ctx.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := ctx.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// CurrentUser returns the logged in user or nil
func CurrentUser(ctx echo.Context) *database.User {
	user, _ := ctx.Get(userContextKey).(*database.User)
	return user
}

// SessionToken returns the token presented with the request, valid or not
func SessionToken(ctx echo.Context) string {
	token, _ := ctx.Get(tokenContextKey).(string)
	return token
}

func SetSessionCookie(ctx echo.Context, token string, ttl time.Duration) {
	ctx.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   ctx.IsTLS(),
	})
}

func ClearSessionCookie(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
