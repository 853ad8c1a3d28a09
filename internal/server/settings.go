package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type putSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) GetSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))

	value, ok, err := s.settingsSvc.Get(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"key": key, "value": value}})
}

func (s *Server) PutSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))

	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	if err := s.settingsSvc.Set(c.Request.Context(), key, req.Value); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"key": key, "value": req.Value}})
}

func (s *Server) DeleteSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))

	if err := s.settingsSvc.Unset(c.Request.Context(), key); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}
