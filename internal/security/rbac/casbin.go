package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"
)

// CasbinPolicy wraps a Casbin enforcer over (subject, object, action) rules
// with role grouping.
type CasbinPolicy struct {
	enforcer *casbin.Enforcer
}

func NewCasbinPolicy(modelPath, policyPath string) (*CasbinPolicy, error) {
	e, err := casbin.NewEnforcer(modelPath, policyPath)
	if err != nil {
		return nil, err
	}
	return &CasbinPolicy{enforcer: e}, nil
}

// Can checks a "resource:action" permission for a user.
func (p *CasbinPolicy) Can(user, permission string) bool {
	obj, act := parsePermission(permission)
	ok, err := p.enforcer.Enforce(user, obj, act)
	if err != nil {
		slog.Warn("casbin enforce failed", "user", user, "perm", permission, "error", err)
		return false
	}
	return ok
}

// CanHTTP checks the request path/method for the user and each of its roles.
func (p *CasbinPolicy) CanHTTP(user string, roles []string, r *http.Request) bool {
	subjects := append([]string{user}, prefixed(roles)...)
	for _, sub := range subjects {
		ok, err := p.enforcer.Enforce(sub, r.URL.Path, r.Method)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func prefixed(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, "role:"+role)
	}
	return out
}

func parsePermission(perm string) (obj, act string) {
	if i := strings.LastIndex(perm, ":"); i >= 0 {
		return perm[:i], perm[i+1:]
	}
	return perm, "*"
}
