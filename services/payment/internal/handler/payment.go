package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/paymentlink"
)

// PaymentHandler - публичные эндпоинты клиента: проверка оплаты и ссылки.
type PaymentHandler struct {
	verifier     Verifier
	links        LinkService
	documentsURL string
}

// NewPaymentHandler создаёт PaymentHandler. links может быть nil.
func NewPaymentHandler(verifier Verifier, links LinkService, documentsURL string) *PaymentHandler {
	return &PaymentHandler{verifier: verifier, links: links, documentsURL: documentsURL}
}

// VerifyRequest - тело POST /api/v1/payments/verify.
type VerifyRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// Verify обрабатывает POST /api/v1/payments/verify.
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleError(c, domain.ErrMissingIntentID, "verify")
		return
	}

	res, err := h.verifier.Verify(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		HandleError(c, err, "verify")
		return
	}
	c.JSON(http.StatusOK, res)
}

// LinkResponse - ссылка на оплату для страницы оплаты и back-office.
type LinkResponse struct {
	Token         string               `json:"token"`
	URL           string               `json:"url"`
	PaymentType   domain.SliceType     `json:"payment_type"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	Status        domain.LinkStatus    `json:"status"`
	ExpiresAt     time.Time            `json:"expires_at"`
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	// InstallmentsAvailable - можно ли оплатить ссылку в 3 платежа.
	InstallmentsAvailable bool `json:"installments_available"`
}

func linkResponse(v *paymentlink.LinkView) LinkResponse {
	return LinkResponse{
		Token:                 v.Link.Token,
		URL:                   v.URL,
		PaymentType:           v.Link.PaymentType,
		Amount:                v.Link.Amount,
		Currency:              v.Order.Currency,
		Status:                v.Link.Status,
		ExpiresAt:             v.Link.ExpiresAt,
		OrderID:               v.Order.ID,
		OrderNumber:           v.Order.OrderNumber,
		PaymentStatus:         v.Order.PaymentStatus,
		InstallmentsAvailable: v.Link.PaymentType == domain.SliceFull,
	}
}

// GetLink обрабатывает GET /api/v1/payment-links/:token.
func (h *PaymentHandler) GetLink(c *gin.Context) {
	view, err := h.links.Access(c.Request.Context(), c.Param("token"))
	if err != nil {
		HandleError(c, err, "get_link")
		return
	}
	c.JSON(http.StatusOK, linkResponse(view))
}

// CheckoutRequest - тело POST /api/v1/payment-links/:token/checkout.
type CheckoutRequest struct {
	Installments int `json:"installments"`
}

// Checkout обрабатывает POST /api/v1/payment-links/:token/checkout.
// Пустое тело означает оплату одним платежом.
func (h *PaymentHandler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Некорректное тело запроса")
			return
		}
	}

	res, err := h.links.Checkout(c.Request.Context(), c.Param("token"), req.Installments)
	if err != nil {
		HandleError(c, err, "checkout")
		return
	}
	c.JSON(http.StatusOK, res)
}

// Invoice обрабатывает GET /api/v1/payment-links/:token/invoice.
func (h *PaymentHandler) Invoice(c *gin.Context) {
	inv, err := h.links.Invoice(c.Request.Context(), c.Param("token"))
	if err != nil {
		HandleError(c, err, "link_invoice")
		return
	}
	c.JSON(http.StatusOK, invoiceResponse(inv, h.documentsURL))
}
