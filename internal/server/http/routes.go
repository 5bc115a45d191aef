package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	"github.com/groupguard/quorum/internal/quorum"
)

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		if _, _, ok := s.require(c, "stats:read"); !ok {
			return
		}
		s.statsHandler(c)
	})

	api.POST("/approvals", func(c *gin.Context) {
		user, _, ok := s.require(c, "approvals:create")
		if !ok {
			return
		}
		var in struct {
			GroupID           string          `json:"group_id"`
			Type              string          `json:"type"`
			Payload           json.RawMessage `json:"payload"`
			RelatedEntityID   string          `json:"related_entity_id"`
			RelatedEntityType string          `json:"related_entity_type"`
			Policy            quorum.Policy   `json:"policy"`
		}
		if err := c.BindJSON(&in); err != nil || in.GroupID == "" || in.Type == "" {
			s.respondError(c, http.StatusBadRequest, "bad_request", "missing group_id or type")
			return
		}
		a, err := s.engine.CreateApproval(c.Request.Context(), quorum.CreateRequest{
			GroupID:           in.GroupID,
			Type:              quorum.ApprovalType(in.Type),
			RequestedBy:       user,
			Payload:           in.Payload,
			RelatedEntityID:   in.RelatedEntityID,
			RelatedEntityType: in.RelatedEntityType,
			Policy:            in.Policy,
		})
		if err != nil {
			s.respondEngineErr(c, err)
			return
		}
		s.approvalsCreated.Add(1)
		c.JSON(http.StatusCreated, a)
	})

	api.POST("/approvals/:id/votes", func(c *gin.Context) {
		user, _, ok := s.require(c, "approvals:vote")
		if !ok {
			return
		}
		var in struct {
			Decision string `json:"decision"`
		}
		if err := c.BindJSON(&in); err != nil || in.Decision == "" {
			s.respondError(c, http.StatusBadRequest, "bad_request", "missing decision")
			return
		}
		res, err := s.engine.CastVote(c.Request.Context(), c.Param("id"), user, quorum.Decision(in.Decision))
		if err != nil {
			s.respondEngineErr(c, err)
			return
		}
		s.votesCast.Add(1)
		c.JSON(http.StatusOK, gin.H{
			"status":         res.Status,
			"approve_count":  res.Tally.Approve,
			"reject_count":   res.Tally.Reject,
			"total_eligible": res.Tally.TotalEligible,
		})
	})

	api.POST("/approvals/:id/cancel", func(c *gin.Context) {
		user, _, ok := s.require(c, "approvals:cancel")
		if !ok {
			return
		}
		if err := s.engine.CancelApproval(c.Request.Context(), c.Param("id"), user); err != nil {
			s.respondEngineErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": quorum.StatusCanceled})
	})

	api.GET("/approvals/:id", func(c *gin.Context) {
		if _, _, ok := s.require(c, "approvals:read"); !ok {
			return
		}
		v, err := s.engine.GetApproval(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.respondEngineErr(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	})

	api.GET("/approvals", func(c *gin.Context) {
		if _, _, ok := s.require(c, "approvals:read"); !ok {
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
		f := quorum.Filter{
			GroupID:     c.Query("group_id"),
			Status:      quorum.Status(c.Query("status")),
			Type:        quorum.ApprovalType(c.Query("type")),
			RequestedBy: c.Query("requested_by"),
		}
		items, total, err := s.engine.ListApprovals(c.Request.Context(), f, quorum.Page{Page: page, Size: size, Sort: c.Query("sort")})
		if err != nil {
			s.respondEngineErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"approvals": items, "total": total, "page": page, "size": size})
	})

	api.GET("/groups/:id/members", func(c *gin.Context) {
		if _, _, ok := s.require(c, "groups:read"); !ok {
			return
		}
		members, err := s.groups.Members(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.respondEngineErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	api.GET("/groups/:id/files", func(c *gin.Context) {
		if _, _, ok := s.require(c, "groups:read"); !ok {
			return
		}
		files, err := s.groups.Files(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.respondEngineErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": files})
	})
}
