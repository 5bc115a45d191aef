// Package httpserver exposes the approval engine over HTTP: creating
// approvals, casting votes, cancellation, and the read model. Transport only;
// all voting semantics live in the quorum package.
package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	gin "github.com/gin-gonic/gin"

	"github.com/groupguard/quorum/internal/auth/token"
	"github.com/groupguard/quorum/internal/cli/common"
	"github.com/groupguard/quorum/internal/quorum"
	"github.com/groupguard/quorum/internal/repo/gorm/groups"
	"github.com/groupguard/quorum/internal/security/rbac"
)

type Server struct {
	engine  *quorum.Engine
	groups  *groups.Repo
	rbac    rbac.PolicyInterface
	jwtMgr  *token.Manager
	httpSrv *http.Server

	startedAt        time.Time
	approvalsCreated atomic.Int64
	votesCast        atomic.Int64
	authDenied       atomic.Int64
}

// Options configures the HTTP server. JWT may be nil in dev mode, in which
// case the caller identity comes from the X-Member-ID header. RBAC may be nil
// to allow any authenticated caller.
type Options struct {
	Addr         string
	JWT          *token.Manager
	RBAC         rbac.PolicyInterface
	AllowOrigins string
}

func NewServer(engine *quorum.Engine, groupRepo *groups.Repo, opts Options) *Server {
	s := &Server{
		engine:    engine,
		groups:    groupRepo,
		rbac:      opts.RBAC,
		jwtMgr:    opts.JWT,
		startedAt: time.Now(),
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.ginReqID(), s.ginCORS(opts.AllowOrigins))
	s.routes(r)
	s.httpSrv = &http.Server{Addr: opts.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) Run() error {
	slog.Info("http listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.httpSrv.Shutdown(ctx) }

// auth resolves the caller identity. Bearer tokens are authoritative; the
// X-Member-ID header is honored only when no token manager is configured.
func (s *Server) auth(r *http.Request) (string, []string, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") && s.jwtMgr != nil {
		user, roles, err := s.jwtMgr.Verify(strings.TrimPrefix(authz, "Bearer "))
		if err == nil {
			return user, roles, true
		}
		return "", nil, false
	}
	if s.jwtMgr == nil {
		if id := strings.TrimSpace(r.Header.Get("X-Member-ID")); id != "" {
			return id, nil, true
		}
	}
	return "", nil, false
}

func (s *Server) can(user string, roles []string, perm string) bool {
	if s.rbac == nil {
		return true
	}
	if s.rbac.Can(user, perm) {
		return true
	}
	for _, role := range roles {
		if s.rbac.Can("role:"+role, perm) {
			return true
		}
	}
	return false
}

// require authenticates and checks that the caller holds any of the listed
// permissions. Route-level grants ("METHOD:/path" in the legacy map, path/verb
// rules in casbin) are honored as a fallback when no named permission matches.
func (s *Server) require(c *gin.Context, anyOf ...string) (string, []string, bool) {
	user, roles, ok := s.auth(c.Request)
	if !ok {
		s.respondError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return "", nil, false
	}
	if len(anyOf) == 0 {
		return user, roles, true
	}
	for _, p := range anyOf {
		if s.can(user, roles, p) {
			return user, roles, true
		}
	}
	if s.rbac != nil && s.rbac.CanHTTP(user, roles, c.Request) {
		return user, roles, true
	}
	s.authDenied.Add(1)
	s.respondError(c, http.StatusForbidden, "forbidden", "forbidden")
	return user, roles, false
}

// ginReqID injects/propagates an X-Request-ID for traceability.
func (s *Server) ginReqID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Request.Header.Get("X-Request-ID")
		if strings.TrimSpace(rid) == "" {
			b := make([]byte, 16)
			if _, err := rand.Read(b); err == nil {
				rid = hex.EncodeToString(b)
			} else {
				rid = fmt.Sprintf("%d", time.Now().UnixNano())
			}
		}
		c.Set("reqid", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

func (s *Server) ginCORS(allowOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			switch {
			case allowOrigins == "*":
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			case allowOrigins != "":
				for _, o := range strings.Split(allowOrigins, ",") {
					if strings.TrimSpace(o) == origin {
						c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
						c.Writer.Header().Add("Vary", "Origin")
						break
					}
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Member-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

// respondError sends a unified JSON error body.
func (s *Server) respondError(c *gin.Context, status int, code, message string) {
	type errBody struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	}
	rid, _ := c.Get("reqid")
	ridStr, _ := rid.(string)
	c.AbortWithStatusJSON(status, errBody{Code: code, Message: message, RequestID: ridStr})
}

// respondEngineErr maps engine sentinel errors to HTTP statuses. Conflict
// errors surface as 409 so callers can show "already decided" instead of a
// generic failure.
func (s *Server) respondEngineErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quorum.ErrNotFound):
		s.respondError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, quorum.ErrAlreadyFinalized), errors.Is(err, quorum.ErrDuplicateVote):
		s.respondError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, quorum.ErrNotEligible), errors.Is(err, quorum.ErrForbidden):
		s.respondError(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, quorum.ErrInvalidPolicy), errors.Is(err, quorum.ErrInvalidPayload):
		s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
	default:
		slog.Error("request failed", "error", err)
		s.respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
		"approvals_created": s.approvalsCreated.Load(),
		"votes_cast":        s.votesCast.Load(),
		"auth_denied":       s.authDenied.Load(),
		"audit_errors":      s.engine.AuditErrors(),
		"log_counters":      common.GetLogCounters(),
	})
}
