package mayasync

import (
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/marketsync_backend/utils"
	"github.com/gin-gonic/gin"
)

// PushHandler is the broker's push endpoint. The status code is the ack
// protocol: 204 consumes the delivery, 500 makes the broker redeliver after
// its configured backoff. Malformed envelopes are consumed; redelivering
// them can never help.
func (h *Handlers) PushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("SYNC_ENABLE_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		msg, deliveryAttempt, err := DecodePushEnvelope(body)
		if err != nil || msg.JobId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		ctx := utils.SetSellerIdInContext(c.Request.Context(), msg.SellerId)
		if err := h.orch.HandleDelivery(ctx, msg, deliveryAttempt); err != nil {
			// ErrJobRetry and infrastructure errors both want redelivery.
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
