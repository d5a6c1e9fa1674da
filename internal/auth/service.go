package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Service resolves opaque bearer credentials to a principal id.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService constructs the identity service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// ResolveToken verifies the "<id>.<secret>" credential and returns the principal.
func (s *Service) ResolveToken(ctx context.Context, token string) (shared.Principal, error) {
	id, secret, ok := splitToken(token)
	if !ok {
		return shared.Principal{}, ErrInvalidToken
	}
	var stored APIToken
	err := s.pool.QueryRow(ctx, `SELECT t.id, t.user_id, u.name, t.secret_hash, t.revoked
FROM api_tokens t JOIN users u ON u.id = t.user_id
WHERE t.id = $1`, id).Scan(&stored.ID, &stored.UserID, &stored.UserName, &stored.SecretHash, &stored.Revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Principal{}, ErrInvalidToken
		}
		return shared.Principal{}, err
	}
	if stored.Revoked {
		return shared.Principal{}, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.SecretHash), []byte(secret)); err != nil {
		return shared.Principal{}, ErrInvalidToken
	}
	_, _ = s.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, stored.ID)
	return shared.Principal{ID: stored.UserID, Name: stored.UserName}, nil
}

// Middleware authenticates requests and stores the principal in the context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		principal, err := s.ResolveToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && s.logger != nil {
				s.logger.Error("resolve token", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func splitToken(token string) (int64, string, bool) {
	idStr, secret, found := strings.Cut(token, ".")
	if !found || secret == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, secret, true
}
