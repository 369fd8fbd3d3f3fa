package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const issuer = "reglament"

// Claims identify the caller. The subject is the Telegram id in decimal.
type Claims struct {
	TelegramID int64 `json:"tg"`
	jwt.RegisteredClaims
}

// Auth signs and verifies HS256 bearer tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

func NewAuth(secret string, ttl time.Duration) (*Auth, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl}, nil
}

// IssueToken returns a token for telegramID and its expiry.
func (a *Auth) IssueToken(telegramID int64) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(a.ttl)
	claims := &Claims{
		TelegramID: telegramID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(telegramID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tok, exp, nil
}

// ValidateToken checks the signature, expiry and subject of tok.
func (a *Auth) ValidateToken(tok string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
			return nil, errors.New("token is expired or not active yet")
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TelegramID == 0 || claims.Subject != strconv.FormatInt(claims.TelegramID, 10) {
		return nil, errors.New("token subject mismatch")
	}
	return claims, nil
}

type ctxKey struct{}

// OwnerFrom returns the authenticated Telegram id stored by Middleware.
func OwnerFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

// OwnerFromRequest is OwnerFrom for handlers that only have the request.
func OwnerFromRequest(r *http.Request) (int64, bool) { return OwnerFrom(r.Context()) }

// Middleware authenticates "Authorization: Bearer <token>". Browsers cannot
// set headers on a WebSocket upgrade, so the access_token query parameter is
// accepted as well.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if h := r.Header.Get("Authorization"); h != "" {
			scheme, rest, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "expected Authorization: Bearer <token>"})
				return
			}
			tok = strings.TrimSpace(rest)
		} else {
			tok = r.URL.Query().Get("access_token")
		}
		if tok == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		claims, err := a.ValidateToken(tok)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims.TelegramID)))
	})
}
