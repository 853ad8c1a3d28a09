package server

import (
	"net/http"
	"strings"

	paymentdomain "github.com/Torqvoice/torqvoice-sub001/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) RecordPayment(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(invoiceID); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req paymentdomain.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	req.InvoiceID = invoiceID

	ledger, err := s.paymentSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": ledger})
}

func (s *Server) DeletePayment(c *gin.Context) {
	paymentID := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(paymentID); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	ledger, err := s.paymentSvc.Delete(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ledger})
}

func (s *Server) GetInvoiceLedger(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(invoiceID); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	ledger, err := s.paymentSvc.LedgerFor(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ledger})
}
