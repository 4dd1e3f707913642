package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// maxWebhookBody - ограничение размера тела события процессора.
const maxWebhookBody = 512 << 10

// WebhookHandler принимает события процессора.
type WebhookHandler struct {
	service WebhookService
}

// NewWebhookHandler создаёт WebhookHandler.
func NewWebhookHandler(service WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Stripe обрабатывает POST /webhooks/stripe.
//
// 200 - событие применено, уже обработано, не меняет состояние или относится
// к неизвестному намерению. 5xx заставляет процессор доставить событие повторно.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "Не удалось прочитать тело запроса")
		return
	}

	res, err := h.service.Handle(ctx, payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Повторная доставка ничего не изменит.
			logger.Ctx(ctx).Warn().Err(err).Msg("Событие для неизвестного намерения подтверждено без изменений")
			c.JSON(http.StatusOK, gin.H{"received": true, "unknown_intent": true})
			return
		}
		HandleError(c, err, "webhook")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":          true,
		"event_id":          res.EventID,
		"event_type":        res.EventType,
		"ignored":           res.Ignored,
		"committed":         res.Committed,
		"already_processed": res.AlreadyProcessed,
	})
}
