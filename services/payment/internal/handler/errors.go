// Package handler содержит HTTP обработчики сервиса платежей.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-reconciler/pkg/circuitbreaker"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// ErrorResponse - стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorMapping связывает вид доменной ошибки с HTTP статусом и кодом.
// Порядок важен: первая совпавшая запись выигрывает.
var errorMapping = []struct {
	kind   error
	status int
	code   string
	// public - текст ошибки можно показать клиенту.
	public bool
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found", true},
	{domain.ErrSignature, http.StatusBadRequest, "invalid_signature", true},
	{domain.ErrValidation, http.StatusBadRequest, "invalid_argument", true},
	{domain.ErrConflict, http.StatusConflict, "conflict", true},
	{domain.ErrGone, http.StatusGone, "gone", true},
	{domain.ErrCardDeclined, http.StatusPaymentRequired, "card_declined", true},
	{circuitbreaker.ErrUnavailable, http.StatusServiceUnavailable, "service_unavailable", false},
	{domain.ErrExternalService, http.StatusBadGateway, "processor_error", false},
	{domain.ErrPersistence, http.StatusInternalServerError, "internal_error", false},
}

// HandleError преобразует доменную ошибку в HTTP ответ.
// ВАЖНО: err не должен быть nil.
func HandleError(c *gin.Context, err error, op string) {
	log := logger.FromContext(c.Request.Context())

	if err == nil {
		log.Error().Str("op", op).Msg("HandleError вызван с nil ошибкой")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
		return
	}

	for _, m := range errorMapping {
		if !errors.Is(err, m.kind) {
			continue
		}
		msg := err.Error()
		if !m.public {
			msg = m.kind.Error()
		}
		if m.status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("op", op).Int("status", m.status).Msg("Ошибка обработки запроса")
		} else {
			log.Info().Err(err).Str("op", op).Int("status", m.status).Msg("Запрос отклонён")
		}
		c.JSON(m.status, ErrorResponse{Error: m.code, Message: msg})
		return
	}

	log.Error().Err(err).Str("op", op).Msg("Внутренняя ошибка")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: msg})
}
