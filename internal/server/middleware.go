package server

import (
	"strings"

	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const (
	HeaderOrg   = "X-Org-ID"
	HeaderActor = "X-Actor"
)

// OrgContext resolves the active organization from the X-Org-ID header,
// falling back to the configured default org for single-shop deployments.
// The acting principal comes from X-Actor ("user:<id>"); requests without
// one run as the system actor.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := s.resolveOrgID(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = orgcontext.WithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) resolveOrgID(c *gin.Context) (snowflake.ID, error) {
	header := strings.TrimSpace(c.GetHeader(HeaderOrg))
	if header == "" {
		if s.cfg.DefaultOrgID != 0 {
			return snowflake.ID(s.cfg.DefaultOrgID), nil
		}
		return 0, newValidationError("org_id", "invalid_organization", "missing organization")
	}

	orgID, err := snowflake.ParseString(header)
	if err != nil || orgID == 0 {
		return 0, newValidationError("org_id", "invalid_organization", "invalid organization")
	}
	return orgID, nil
}

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		if !ok {
			AbortWithError(c, newValidationError("org_id", "invalid_organization", "missing organization"))
			return
		}
		actor := orgcontext.ActorFromContext(ctx)

		if err := s.authzSvc.Authorize(ctx, actor, orgID.String(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
