package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TriggerBillingRun runs a billing sweep scoped to the request's
// organization. The cron scheduler covers routine runs; this endpoint is
// for catch-up after downtime or for verifying a new agreement.
func (s *Server) TriggerBillingRun(c *gin.Context) {
	result, err := s.processor.RunDueBilling(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
