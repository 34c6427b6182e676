package api

import (
	"net/http"
	"strings"

	"routeopt/internal/auth"
)

const defaultTenant = "t_demo"

// getPrincipal extracts tenant and role from a bearer token, or from the
// X-Tenant-Id and X-Role headers when running in dev mode without a token.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		return s.Auth.Verify(r.Context(), tok)
	}
	if s.Auth.Mode != "dev" {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	if tenant == "" {
		tenant = defaultTenant
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	if role == "" {
		role = auth.RoleAdmin
	}
	return auth.Principal{Tenant: tenant, Role: role}, nil
}

// authorize writes 401/403 and returns false unless the caller holds one of
// roles.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, roles ...string) (auth.Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="routeopt"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return p, false
	}
	if !p.HasRole(roles...) {
		writeProblem(w, http.StatusForbidden, "Forbidden", strings.Join(roles, " or ")+" required", r.URL.Path)
		return p, false
	}
	return p, true
}

var (
	optimizeRoles = []string{auth.RoleAdmin, auth.RoleDispatcher, auth.RolePlanner}
	readRoles     = []string{auth.RoleAdmin, auth.RoleDispatcher, auth.RolePlanner, auth.RoleViewer}
)
