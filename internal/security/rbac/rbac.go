// Package rbac gates HTTP routes of the approval API. Policies come from a
// Casbin model/policy pair when present, else from a simple JSON allow-map.
// Group-level eligibility (who may vote) is the engine's own concern; this
// layer only decides who may reach an endpoint at all.
package rbac

import "net/http"

// PolicyInterface is the authorization check used by the HTTP server.
type PolicyInterface interface {
	Can(user, permission string) bool
	CanHTTP(user string, roles []string, r *http.Request) bool
}

// Policy is the legacy allow-map implementation: allow[user][permission].
type Policy struct {
	allow map[string]map[string]bool
}

func NewPolicy() *Policy { return &Policy{allow: map[string]map[string]bool{}} }

func (p *Policy) Grant(user, perm string) {
	m := p.allow[user]
	if m == nil {
		m = map[string]bool{}
		p.allow[user] = m
	}
	m[perm] = true
}

func (p *Policy) Can(user, perm string) bool {
	if m := p.allow[user]; m != nil {
		if m[perm] || m["*"] {
			return true
		}
	}
	return false
}

func (p *Policy) CanHTTP(user string, roles []string, r *http.Request) bool {
	perm := r.Method + ":" + r.URL.Path
	if p.Can(user, perm) || p.Can(user, "*") {
		return true
	}
	for _, role := range roles {
		if p.Can("role:"+role, perm) || p.Can("role:"+role, "*") {
			return true
		}
	}
	return false
}
