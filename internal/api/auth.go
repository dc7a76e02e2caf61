package api

import (
	"crypto/subtle"
	"net/http"
	"slices"

	"github.com/AaronLay10/linkstage/internal/config"
)

// Role is what an authenticated caller may do. Admins may do everything an
// operator can.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

type credential struct {
	user, pass string
	role       Role
}

// authConfig holds the accepted basic-auth credentials in match order.
// A nil or empty config disables authentication.
type authConfig struct {
	creds []credential
}

var auth *authConfig

// InitAuth installs credentials from the resolved secrets. Without an admin
// user and password, authentication stays off and operator credentials are
// ignored.
func InitAuth(s config.Secrets) {
	auth = &authConfig{}
	if s.AdminUser == "" || s.AdminPass == "" {
		return
	}
	auth.creds = append(auth.creds, credential{s.AdminUser, s.AdminPass, RoleAdmin})
	if s.OperatorUser != "" && s.OperatorPass != "" {
		auth.creds = append(auth.creds, credential{s.OperatorUser, s.OperatorPass, RoleOperator})
	}
}

func IsAuthEnabled() bool {
	return auth != nil && len(auth.creds) > 0
}

// roleFor resolves the caller's role. ok is false for missing or wrong
// credentials.
func (a *authConfig) roleFor(r *http.Request) (Role, bool) {
	user, pass, present := r.BasicAuth()
	if !present {
		return "", false
	}
	for _, c := range a.creds {
		if secureCompare(user, c.user) && secureCompare(pass, c.pass) {
			return c.role, true
		}
	}
	return "", false
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireRole admits callers holding one of roles. Unauthenticated callers
// get 401 with a basic-auth challenge, authenticated ones without a listed
// role get 403. With auth disabled every caller is treated as admin.
func RequireRole(handler http.HandlerFunc, roles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := RoleAdmin
		if IsAuthEnabled() {
			var ok bool
			if role, ok = auth.roleFor(r); !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="linkstage"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if !slices.Contains(roles, role) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		handler(w, r)
	}
}

func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
