// Package auth answers add-on permission questions from JWT claims.
package auth

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"

	"github.com/go-chi/jwtauth"
	"github.com/tendant/simple-addons/pkg/addons"
)

// Claim names carried by add-on tokens.
const (
	ClaimUserID      = "user_id"
	ClaimName        = "name"
	ClaimPermissions = "perms"
)

// User is the acting principal.
type User struct {
	ID          int64
	Name        string
	Permissions []addons.Permission
}

// NewTokenAuth creates an HS256 token authority for secret.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// IssueToken signs a token for user.
func IssueToken(ta *jwtauth.JWTAuth, user User) (string, error) {
	perms := make([]string, 0, len(user.Permissions))
	for _, p := range user.Permissions {
		perms = append(perms, string(p))
	}
	_, token, err := ta.Encode(map[string]interface{}{
		ClaimUserID:      user.ID,
		ClaimName:        user.Name,
		ClaimPermissions: perms,
	})
	return token, err
}

// JWTPermissions implements addons.Permissions over the token verified by
// jwtauth.Verifier. Requests without a valid token are anonymous.
type JWTPermissions struct{}

func claimsFrom(ctx context.Context) map[string]interface{} {
	token, claims, err := jwtauth.FromContext(ctx)
	if err != nil || token == nil {
		return nil
	}
	return claims
}

// UserFromContext returns the user carried by the verified token.
func UserFromContext(ctx context.Context) (User, bool) {
	claims := claimsFrom(ctx)
	if claims == nil {
		return User{}, false
	}
	id, ok := int64Claim(claims[ClaimUserID])
	if !ok || id <= 0 {
		return User{}, false
	}
	user := User{ID: id}
	user.Name, _ = claims[ClaimName].(string)
	switch perms := claims[ClaimPermissions].(type) {
	case []interface{}:
		for _, p := range perms {
			if s, ok := p.(string); ok {
				user.Permissions = append(user.Permissions, addons.Permission(s))
			}
		}
	case []string:
		for _, p := range perms {
			user.Permissions = append(user.Permissions, addons.Permission(p))
		}
	}
	return user, true
}

func int64Claim(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (JWTPermissions) IsLoggedIn(ctx context.Context) bool {
	_, ok := UserFromContext(ctx)
	return ok
}

func (JWTPermissions) CurrentUserID(ctx context.Context) int64 {
	user, _ := UserFromContext(ctx)
	return user.ID
}

func (JWTPermissions) CurrentUserName(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.Name
}

func (JWTPermissions) HasPermission(ctx context.Context, perm addons.Permission) bool {
	user, ok := UserFromContext(ctx)
	return ok && slices.Contains(user.Permissions, perm)
}

// Static is a fixed principal, used by command-line tools.
type Static struct {
	User User
}

// System returns a logged-in principal holding every add-on permission.
func System() Static {
	return Static{User: User{ID: 1, Name: "system", Permissions: []addons.Permission{addons.PermEditAddons}}}
}

func (s Static) IsLoggedIn(ctx context.Context) bool        { return s.User.ID > 0 }
func (s Static) CurrentUserID(ctx context.Context) int64    { return s.User.ID }
func (s Static) CurrentUserName(ctx context.Context) string { return s.User.Name }
func (s Static) HasPermission(ctx context.Context, perm addons.Permission) bool {
	return s.IsLoggedIn(ctx) && slices.Contains(s.User.Permissions, perm)
}
