package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
)

// GetInvoice
// GET /v1/invoices/:id
func (s *Server) GetInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	invoice, err := s.invoiceSvc.Get(c.Request.Context(), s.orgIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, invoice)
}

// CancelInvoice
// POST /v1/invoices/:id/cancel
func (s *Server) CancelInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	invoice, err := s.invoiceSvc.Cancel(c.Request.Context(), s.orgIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, invoice)
}

type initializePaymentRequest struct {
	Provider    string `json:"provider"`
	CallbackURL string `json:"callback_url"`
}

// InitializePayment starts a hosted checkout for an invoice.
// POST /v1/invoices/:id/pay
func (s *Server) InitializePayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req initializePaymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	var provider paymentdomain.Provider
	if strings.TrimSpace(req.Provider) != "" {
		parsed, err := paymentdomain.ParseProvider(req.Provider)
		if err != nil {
			AbortWithError(c, newValidationError("provider", "invalid_provider", "unknown payment provider"))
			return
		}
		provider = parsed
	}

	out, err := s.paymentSvc.InitializePayment(c.Request.Context(), paymentdomain.InitializeInput{
		OrganizationID: s.orgIDFromContext(c),
		InvoiceID:      id,
		Provider:       provider,
		CallbackURL:    strings.TrimSpace(req.CallbackURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, out)
}

// VerifyPayment asks the gateway for the transaction state and reconciles it.
// GET /v1/payments/:reference/verify
func (s *Server) VerifyPayment(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	if reference == "" {
		AbortWithError(c, newValidationError("reference", "invalid_reference", "reference is required"))
		return
	}
	out, err := s.paymentSvc.VerifyPayment(c.Request.Context(), s.orgIDFromContext(c), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, out)
}
