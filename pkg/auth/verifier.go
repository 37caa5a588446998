package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/store"
)

// Verifier resolves a presented credential to a user identity. It touches
// nothing but the identity store.
type Verifier struct {
	secret  []byte
	users   store.UserStore
	timeout time.Duration
	log     *zap.Logger
}

func NewVerifier(secret []byte, users store.UserStore, timeout time.Duration, log *zap.Logger) *Verifier {
	return &Verifier{secret: secret, users: users, timeout: timeout, log: log}
}

func (v *Verifier) Verify(ctx context.Context, token string) (model.User, error) {
	if token == "" {
		return model.User{}, chaterr.ErrMissingCredential
	}

	claims, err := ParseToken(v.secret, token)
	if err != nil {
		return model.User{}, chaterr.ErrInvalidOrExpired.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	user, err := v.users.FindUser(ctx, claims.Identity())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.User{}, chaterr.ErrUnknownUser
	case err != nil:
		v.log.Error("identity lookup failed", zap.String("user_id", claims.Identity()), zap.Error(err))
		return model.User{}, chaterr.Storage(err, "find user")
	}
	return user, nil
}

// ExtractToken reads the credential from the Authorization header, falling
// back to the "token" and "auth" query parameters used by browser clients.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	return q.Get("auth")
}
