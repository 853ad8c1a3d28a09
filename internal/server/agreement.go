package server

import (
	"net/http"
	"strings"

	agreementdomain "github.com/Torqvoice/torqvoice-sub001/internal/agreement/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAgreements(c *gin.Context) {
	resp, err := s.agreementSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Agreements})
}

func (s *Server) CreateAgreement(c *gin.Context) {
	var req agreementdomain.CreateAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	detail, err := s.agreementSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": detail})
}

func (s *Server) GetAgreementByID(c *gin.Context) {
	id, ok := agreementID(c)
	if !ok {
		return
	}

	detail, err := s.agreementSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) UpdateAgreement(c *gin.Context) {
	id, ok := agreementID(c)
	if !ok {
		return
	}

	var req agreementdomain.UpdateAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	req.ID = id

	detail, err := s.agreementSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) DeleteAgreement(c *gin.Context) {
	id, ok := agreementID(c)
	if !ok {
		return
	}

	if err := s.agreementSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (s *Server) PauseAgreement(c *gin.Context) {
	s.toggleAgreement(c, false)
}

func (s *Server) ActivateAgreement(c *gin.Context) {
	s.toggleAgreement(c, true)
}

func (s *Server) toggleAgreement(c *gin.Context, active bool) {
	id, ok := agreementID(c)
	if !ok {
		return
	}

	agreement, err := s.agreementSvc.Toggle(c.Request.Context(), id, active)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agreement})
}

func agreementID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return "", false
	}
	return id, true
}
