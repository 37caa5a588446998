package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/store"
	"github.com/mahaj/chat-gateway/pkg/store/mocks"
)

var secret = []byte("test-secret")

func TestVerifier_Verify(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	v := NewVerifier(secret, users, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("resolves a valid token", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateToken(secret, "u1", time.Hour)
		req.NoError(err)

		users.EXPECT().FindUser(gomock.Any(), "u1").Return(model.User{ID: "u1", FirstName: "Ana"}, nil).Times(1)

		user, err := v.Verify(ctx, token)
		req.NoError(err)
		req.Equal("Ana", user.FirstName)
	})

	t.Run("missing credential never reaches the store", func(t *testing.T) {
		users.EXPECT().FindUser(gomock.Any(), gomock.Any()).Times(0)

		_, err := v.Verify(ctx, "")
		require.ErrorIs(t, err, chaterr.ErrMissingCredential)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := GenerateToken(secret, "u1", -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, chaterr.ErrInvalidOrExpired)
		require.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateToken([]byte("other"), "u1", time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, chaterr.ErrInvalidOrExpired)
	})

	t.Run("unsigned token is rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, chaterr.ErrInvalidOrExpired)
	})

	t.Run("unknown user", func(t *testing.T) {
		token, err := GenerateToken(secret, "ghost", time.Hour)
		require.NoError(t, err)
		users.EXPECT().FindUser(gomock.Any(), "ghost").Return(model.User{}, store.ErrNotFound)

		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, chaterr.ErrUnknownUser)
	})

	t.Run("store failure is a storage error", func(t *testing.T) {
		token, err := GenerateToken(secret, "u1", time.Hour)
		require.NoError(t, err)
		users.EXPECT().FindUser(gomock.Any(), "u1").Return(model.User{}, errors.New("timeout"))

		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, chaterr.ErrStorage)
	})
}

func TestClaims_SubjectFallback(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u9"},
	}).SignedString(secret)
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	require.Equal(t, "u9", claims.Identity())
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"bearer header", "/ws", "Bearer abc", "abc"},
		{"raw header", "/ws", "abc", "abc"},
		{"token query", "/ws?token=q1", "", "q1"},
		{"auth query", "/ws?auth=q2", "", "q2"},
		{"none", "/ws", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, ExtractToken(r))
		})
	}
}
