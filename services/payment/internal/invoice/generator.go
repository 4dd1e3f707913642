// Package invoice формирует счета по оплаченным заказам.
// Метаданные счёта хранятся в БД, PDF рендерит сервис документов по запросу из Kafka.
package invoice

import (
	"context"
	"strconv"
	"time"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// Store сохраняет метаданные счёта. Повторная генерация перезаписывает счёт заказа.
type Store interface {
	Upsert(ctx context.Context, inv *domain.Invoice) error
}

// Publisher публикует JSON сообщение в топик.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key, eventType string, v any) error
}

// RenderRequest - запрос на рендеринг PDF.
type RenderRequest struct {
	InvoiceNumber string            `json:"invoice_number"`
	FileName      string            `json:"file_name"`
	OrderID       int64             `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	Items         []RenderLine      `json:"items"`
	Total         string            `json:"total"`
	AmountPaid    string            `json:"amount_paid"`
	Currency      string            `json:"currency"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// RenderLine - строка счёта.
type RenderLine struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

// Generator создаёт счёт и запрашивает его рендеринг.
type Generator struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

// NewGenerator создаёт Generator. pub == nil - рендеринг не запрашивается.
func NewGenerator(store Store, pub Publisher) *Generator {
	return &Generator{store: store, pub: pub, now: time.Now}
}

// Generate сохраняет счёт заказа с учётом уже оплаченных сумм.
func (g *Generator) Generate(ctx context.Context, order *domain.Order, installments []*domain.Installment) (*domain.Invoice, error) {
	inv := domain.NewInvoice(order, domain.AmountPaid(order, installments), g.now().UTC())

	if err := g.store.Upsert(ctx, inv); err != nil {
		return nil, err
	}

	log := logger.Ctx(ctx).With().Str("invoice_number", inv.Number).Logger()
	if g.pub == nil {
		log.Info().Msg("Счёт сохранён, рендеринг PDF не настроен")
		return inv, nil
	}

	if err := g.pub.PublishJSON(ctx, kafka.TopicInvoiceRender, strconv.FormatInt(order.ID, 10), "invoice.render", renderRequest(inv)); err != nil {
		return inv, err
	}

	log.Info().Msg("Счёт сохранён, рендеринг запрошен")
	return inv, nil
}

func renderRequest(inv *domain.Invoice) RenderRequest {
	lines := make([]RenderLine, len(inv.Items))
	for i, item := range inv.Items {
		lines[i] = RenderLine{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			Total:       item.Total.StringFixed(2),
		}
	}
	return RenderRequest{
		InvoiceNumber: inv.Number,
		FileName:      inv.FileName,
		OrderID:       inv.OrderID,
		OrderNumber:   inv.OrderNumber,
		CustomerName:  inv.CustomerName,
		CustomerEmail: inv.CustomerEmail,
		Items:         lines,
		Total:         inv.Total.StringFixed(2),
		AmountPaid:    inv.AmountPaid.StringFixed(2),
		Currency:      inv.Currency,
		GeneratedAt:   inv.GeneratedAt,
	}
}
