package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/auth"
)

// verifiedContext runs a request carrying token through jwtauth.Verifier and
// returns the context the handler saw.
func verifiedContext(t *testing.T, ta *jwtauth.JWTAuth, token string) context.Context {
	t.Helper()
	var got context.Context
	h := jwtauth.Verifier(ta)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Context()
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	return got
}

func TestJWTPermissions(t *testing.T) {
	ta := auth.NewTokenAuth("test-secret")
	perms := auth.JWTPermissions{}

	t.Run("Moderator", func(t *testing.T) {
		token, err := auth.IssueToken(ta, auth.User{ID: 42, Name: "alice", Permissions: []addons.Permission{addons.PermEditAddons}})
		require.NoError(t, err)
		ctx := verifiedContext(t, ta, token)

		assert.True(t, perms.IsLoggedIn(ctx))
		assert.Equal(t, int64(42), perms.CurrentUserID(ctx))
		assert.Equal(t, "alice", perms.CurrentUserName(ctx))
		assert.True(t, perms.HasPermission(ctx, addons.PermEditAddons))
	})

	t.Run("Uploader", func(t *testing.T) {
		token, err := auth.IssueToken(ta, auth.User{ID: 7, Name: "bob"})
		require.NoError(t, err)
		ctx := verifiedContext(t, ta, token)

		assert.True(t, perms.IsLoggedIn(ctx))
		assert.False(t, perms.HasPermission(ctx, addons.PermEditAddons))
	})

	t.Run("Anonymous", func(t *testing.T) {
		ctx := verifiedContext(t, ta, "")
		assert.False(t, perms.IsLoggedIn(ctx))
		assert.Zero(t, perms.CurrentUserID(ctx))
	})

	t.Run("ForgedToken", func(t *testing.T) {
		other := auth.NewTokenAuth("other-secret")
		token, err := auth.IssueToken(other, auth.User{ID: 1, Permissions: []addons.Permission{addons.PermEditAddons}})
		require.NoError(t, err)
		ctx := verifiedContext(t, ta, token)

		assert.False(t, perms.IsLoggedIn(ctx))
		assert.False(t, perms.HasPermission(ctx, addons.PermEditAddons))
	})
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	sys := auth.System()
	assert.True(t, sys.IsLoggedIn(ctx))
	assert.True(t, sys.HasPermission(ctx, addons.PermEditAddons))

	anon := auth.Static{}
	assert.False(t, anon.IsLoggedIn(ctx))
	assert.False(t, anon.HasPermission(ctx, addons.PermEditAddons))
}
