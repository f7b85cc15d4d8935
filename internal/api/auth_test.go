package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "alice"),
			userId:   "alice",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %q", tc.userId)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		cookie   string
		header   string
		expected string
		err      bool
	}{
		{name: "cookie", cookie: "from-cookie", expected: "from-cookie"},
		{name: "bearer header", header: "Bearer from-header", expected: "from-header"},
		{name: "cookie wins over header", cookie: "from-cookie", header: "Bearer from-header", expected: "from-cookie"},
		{name: "non bearer header", header: "Basic dXNlcjpwYXNz", err: true},
		{name: "empty bearer", header: "Bearer ", err: true},
		{name: "nothing", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			token, err := tokenFromRequest(req)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &GoVoiceChatApp{signingKey: []byte("test-signing-key")}

	sign := func(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	exp := time.Now().Add(time.Hour).Unix()

	tcases := []struct {
		name     string
		token    string
		expected string
		err      bool
	}{
		{
			name:     "string claim",
			token:    sign(t, jwt.SigningMethodHS256, app.signingKey, jwt.MapClaims{userIdClaim: "alice", expClaim: exp}),
			expected: "alice",
		},
		{
			name:     "numeric claim",
			token:    sign(t, jwt.SigningMethodHS256, app.signingKey, jwt.MapClaims{userIdClaim: 42, expClaim: exp}),
			expected: "42",
		},
		{
			name:  "missing claim",
			token: sign(t, jwt.SigningMethodHS256, app.signingKey, jwt.MapClaims{expClaim: exp}),
			err:   true,
		},
		{
			name:  "empty claim",
			token: sign(t, jwt.SigningMethodHS256, app.signingKey, jwt.MapClaims{userIdClaim: "", expClaim: exp}),
			err:   true,
		},
		{
			name:  "unsigned token",
			token: sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{userIdClaim: "alice"}),
			err:   true,
		},
		{
			name:  "garbage",
			token: "not.a.token",
			err:   true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, err := app.extractUserIdFromToken(tc.token)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, userId)
		})
	}
}
