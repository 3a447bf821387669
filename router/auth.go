package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/xpod/core/cmn"
)

// adminClaims is the bearer session issued by POST /admin/nodes and checked
// on every other admin-surface request (spec §6, §4.H), grounded on the
// teacher's authn package bearer-token shape (authn/utils.go).
type adminClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// IssueAdminToken mints the bearer token returned once at node creation
// (spec §6: "token returned only here").
func IssueAdminToken(secret, nodeID string) (string, error) {
	claims := adminClaims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// requireAdminAuth wraps an admin-surface handler with bearer-token
// verification. A blank secret disables auth entirely, for local
// single-operator deployments (see cmn.Config.AdminJWTSecret).
func requireAdminAuth(secret string, next http.HandlerFunc) http.HandlerFunc {
	if secret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			cmn.WriteErr(w, cmn.NewError(cmn.KindAuthRequired, "missing bearer token"))
			return
		}
		_, err := jwt.ParseWithClaims(token, &adminClaims{}, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			cmn.WriteErr(w, cmn.Wrap(cmn.KindAuthFailed, "invalid bearer token", err))
			return
		}
		next(w, r)
	}
}
