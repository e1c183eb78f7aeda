// Package middleware содержит HTTP middleware сервиса заказов.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/memento-mori/internal/model"
)

type contextKey string

const requesterKey contextKey = "requester"

// Claims содержит данные пользователя, передаваемые в токене доступа.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет bearer-токен и кладёт пользователя в контекст запроса.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом секрете генерируется случайный ключ, и токены живут до перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("memento-mori-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware проверяет заголовок Authorization и добавляет пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			writeUnauthorized(w)
			return
		}

		requester, err := a.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), requesterKey, requester)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken выпускает подписанный токен для пользователя.
func (a *AuthMiddleware) IssueToken(requester model.Requester, ttl time.Duration) (string, error) {
	if requester.ID == "" || !requester.Role.Valid() {
		return "", errors.New("requester must have an id and a known role")
	}

	now := a.now()
	claims := Claims{
		Role: requester.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requester.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
}

// ParseToken проверяет подпись и срок действия токена и возвращает пользователя.
func (a *AuthMiddleware) ParseToken(tokenString string) (model.Requester, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return a.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return model.Requester{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return model.Requester{}, errors.New("invalid token")
	}

	if claims.Subject == "" || !claims.Role.Valid() {
		return model.Requester{}, errors.New("token has no subject or unknown role")
	}

	return model.Requester{ID: claims.Subject, Role: claims.Role}, nil
}

// GetRequesterFromContext извлекает пользователя из контекста запроса.
func GetRequesterFromContext(ctx context.Context) (model.Requester, bool) {
	r, ok := ctx.Value(requesterKey).(model.Requester)
	return r, ok
}

// WithRequester кладёт пользователя в контекст.
func WithRequester(ctx context.Context, r model.Requester) context.Context {
	return context.WithValue(ctx, requesterKey, r)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="memento-mori"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
