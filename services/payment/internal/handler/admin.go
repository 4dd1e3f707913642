package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/middleware"
	"example.com/payment-reconciler/services/payment/internal/paymentlink"
)

// AdminHandler - эндпоинты back-office.
type AdminHandler struct {
	links        LinkService
	resyncer     Resyncer
	invoices     InvoiceReader
	documentsURL string
}

// NewAdminHandler создаёт AdminHandler. Любая зависимость может быть nil,
// тогда роутер не регистрирует её маршруты.
func NewAdminHandler(links LinkService, resyncer Resyncer, invoices InvoiceReader, documentsURL string) *AdminHandler {
	return &AdminHandler{links: links, resyncer: resyncer, invoices: invoices, documentsURL: documentsURL}
}

// CreateLinkRequest - тело POST /api/v1/admin/orders/:id/payment-links.
type CreateLinkRequest struct {
	PaymentType string `json:"payment_type" binding:"required"`
	// TTLHours - срок действия в часах, 0 - по умолчанию.
	TTLHours int `json:"ttl_hours" binding:"gte=0"`
}

// CreateLink создаёт ссылку на оплату среза заказа.
func (h *AdminHandler) CreateLink(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Некорректное тело запроса")
		return
	}
	sliceType, err := domain.ParseSliceType(req.PaymentType)
	if err != nil {
		HandleError(c, err, "create_link")
		return
	}

	view, err := h.links.Generate(c.Request.Context(), paymentlink.GenerateParams{
		OrderID:     orderID,
		PaymentType: sliceType,
		TTL:         hours(req.TTLHours),
		CreatedBy:   c.GetString(middleware.ContextAdminID),
	})
	if err != nil {
		HandleError(c, err, "create_link")
		return
	}
	c.JSON(http.StatusCreated, linkResponse(view))
}

// ListLinks возвращает ссылки заказа, новые первыми.
func (h *AdminHandler) ListLinks(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	views, err := h.links.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		HandleError(c, err, "list_links")
		return
	}

	links := make([]LinkResponse, len(views))
	for i, v := range views {
		links[i] = linkResponse(v)
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "links": links})
}

// StrategyRequest - тело PUT /api/v1/admin/orders/:id/payment-strategy.
type StrategyRequest struct {
	Strategy          string `json:"strategy" binding:"required"`
	DepositPercentage int    `json:"deposit_percentage"`
}

// SetStrategy назначает заказу полную оплату или оплату с депозитом.
func (h *AdminHandler) SetStrategy(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req StrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Некорректное тело запроса")
		return
	}

	order, err := h.links.SetStrategy(c.Request.Context(), orderID, domain.PaymentStrategy{
		Mode:              domain.PaymentMode(req.Strategy),
		DepositPercentage: req.DepositPercentage,
	})
	if err != nil {
		HandleError(c, err, "set_strategy")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":         order.ID,
		"payment_mode":     order.PaymentMode,
		"deposit_amount":   order.DepositAmount,
		"remaining_amount": order.RemainingAmount,
	})
}

// Invoice возвращает счёт заказа.
func (h *AdminHandler) Invoice(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	inv, err := h.invoices.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		HandleError(c, err, "order_invoice")
		return
	}
	c.JSON(http.StatusOK, invoiceResponse(inv, h.documentsURL))
}

// RevokeLink отзывает ссылку.
func (h *AdminHandler) RevokeLink(c *gin.Context) {
	token := c.Param("token")
	if err := h.links.Revoke(c.Request.Context(), token); err != nil {
		HandleError(c, err, "revoke_link")
		return
	}
	logger.Ctx(c.Request.Context()).Info().
		Str("admin_id", c.GetString(middleware.ContextAdminID)).
		Msg("Ссылка на оплату отозвана")
	c.Status(http.StatusNoContent)
}

// Resync сверяет все намерения заказа с процессором.
func (h *AdminHandler) Resync(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	items, err := h.resyncer.Resync(c.Request.Context(), orderID)
	if err != nil {
		HandleError(c, err, "resync")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "intents": items})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Некорректный идентификатор заказа")
		return 0, false
	}
	return id, true
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
