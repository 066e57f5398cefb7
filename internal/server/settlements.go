package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gocart/internal/identity"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
)

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	s.ingest(c, "stripe")
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	s.ingest(c, c.Param("provider"))
}

func (s *Server) ingest(c *gin.Context, provider string) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	payload, err := readPayload(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	settlement, err := s.settlementSvc.IngestWebhook(ctx, provider, payload, c.Request.Header)
	ack := s.reporter.Report(ctx, provider, settlement, err)
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(ack.Status, ack.Body)
}

func (s *Server) HandlePaymentConfirmation(c *gin.Context) {
	id, ok := identity.FromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req domain.ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProviderOrderID) == "" {
		AbortWithError(c, newValidationError("razorpayOrderId", "required", "razorpayOrderId is required"))
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		AbortWithError(c, newValidationError("razorpayPaymentId", "required", "razorpayPaymentId is required"))
		return
	}

	ctx := c.Request.Context()
	settlement, err := s.settlementSvc.Confirm(ctx, id, req)
	ack := s.reporter.ReportConfirmation(ctx, settlement, err)
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(ack.Status, ack.Body)
}

func (s *Server) GetSettlement(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	eventID := strings.TrimSpace(c.Param("eventId"))
	if provider == "" || eventID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.settlementSvc.Lookup(c.Request.Context(), provider, eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}
