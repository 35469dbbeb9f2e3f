package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"
)

// Recovery turns a panic into a 500 and logs the stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error(
						"panic recovered",
						"panic", fmt.Sprint(rec),
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					respondWithJSON(w, http.StatusInternalServerError, &APIError{
						Code:    codeInternal,
						Message: "something went wrong, please try again",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Logging writes one line per request. Query strings are left out since IPNs carry references there.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Timeout bounds the handler and answers 503 with the usual envelope when it runs over.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	body := `{"success":false,"error":{"code":"` + codeTimeout + `","message":"request timeout"}}`
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, body)
	}
}

type actorKey struct{}

// ActorFrom returns the authenticated caller placed on the context by Authenticate.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

func withActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// accessClaims is what the managed backend puts in its HS256 access tokens.
type accessClaims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AppMetadata struct {
		Role  string   `json:"role"`
		Roles []string `json:"roles"`
	} `json:"app_metadata"`
}

func (c *accessClaims) hasRole(role string) bool {
	return c.Role == role || c.AppMetadata.Role == role || slices.Contains(c.AppMetadata.Roles, role)
}

var errMissingToken = errors.New("missing bearer token")

// Authenticator verifies bearer tokens issued by the managed backend.
type Authenticator struct {
	secret    []byte
	adminRole string
	logger    *slog.Logger
}

func NewAuthenticator(secret, adminRole string, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), adminRole: adminRole, logger: logger}
}

func (a *Authenticator) parse(header string) (*accessClaims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errMissingToken
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Authenticate requires a valid token and places the Actor on the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parse(r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, errMissingToken) {
				a.logger.Info("rejected access token", "path", r.URL.Path, "error", err)
			}
			respondWithJSON(w, http.StatusUnauthorized, &APIError{
				Code:    codeUnauthorized,
				Message: "sign in to continue",
			})
			return
		}

		actor := domain.Actor{UserID: claims.Subject, Admin: claims.hasRole(a.adminRole)}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || !actor.Admin {
			respondWithJSON(w, http.StatusForbidden, &APIError{
				Code:    domain.ErrCodeForbidden,
				Message: "administrator access required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
