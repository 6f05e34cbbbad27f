package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// HandleWebhook accepts a provider event. Events that verify are
// acknowledged with 200 even when they match nothing locally, so providers
// stop retrying them.
// POST /webhooks/:provider
func (s *Server) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > maxWebhookBody {
		AbortWithError(c, newValidationError("body", "payload_too_large", "webhook payload exceeds 1MB"))
		return
	}

	if err := s.webhookSvc.IngestWebhook(c.Request.Context(), c.Param("provider"), payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
