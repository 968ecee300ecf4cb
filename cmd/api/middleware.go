package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linkwave/internal/auth"
	"linkwave/internal/payments"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const claimsCtx contextKey = "claims"

func (app *application) BasicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Basic" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is malformed"))
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				app.unauthorizedBasicErrorResponse(w, r, err)
				return
			}

			creds := strings.SplitN(string(decoded), ":", 2)
			if len(creds) != 2 || app.config.auth.basic.passHash == "" ||
				subtle.ConstantTimeCompare([]byte(creds[0]), []byte(app.config.auth.basic.user)) != 1 {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("invalid credentials"))
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(app.config.auth.basic.passHash), []byte(creds[1])); err != nil {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("invalid credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is missing")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("authorization header is malformed")
	}
	return parts[1], nil
}

// AdminTokenMiddleware accepts identity-provider access tokens carrying the
// admin role and stores the claims in the request context.
func (app *application) AdminTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}

		claims, err := app.authenticator.ValidateAccessToken(token)
		if err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}
		if !claims.HasRole(auth.RoleAdmin) {
			app.forbiddenResponse(w, r, fmt.Errorf("%w: subject %s", auth.ErrForbidden, claims.Subject))
			return
		}

		ctx := context.WithValue(r.Context(), claimsCtx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getClaimsFromContext(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsCtx).(*auth.Claims)
	return claims
}

// CronSecretMiddleware guards scheduler-facing routes with a static bearer
// secret. An unset secret locks the routes.
func (app *application) CronSecretMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}
		secret := app.config.auth.cronSecret
		if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			app.unauthorizedErrorResponse(w, r, errors.New("invalid cron secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallbackTokenMiddleware checks the shared token providers send with
// delivery reports, either as a bearer token or a ?token= query parameter.
func (app *application) CallbackTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			token = r.URL.Query().Get("token")
		}
		expected := app.config.auth.callbackToken
		if expected == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			app.unauthorizedErrorResponse(w, r, errors.New("invalid callback token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WebhookRateLimitMiddleware applies the per-IP fixed window to webhook
// deliveries.
func (app *application) WebhookRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !app.config.rateLimiter.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter := app.rateLimiter.Allow(payments.ClientIP(r, app.config.trustedProxies))
		if !allowed {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(app.rateLimiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).UnixMilli(), 10))
			app.rateLimitExceededResponse(w, r, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RealIPMiddleware rewrites RemoteAddr to the resolved client address so
// request logs show the caller rather than the load balancer. Forwarding
// headers from untrusted peers are ignored.
func (app *application) RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := payments.ClientIP(r, app.config.trustedProxies); ip != "unknown" {
			r.RemoteAddr = ip
		}
		next.ServeHTTP(w, r)
	})
}
