package ingress

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/samber/lo"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// InstallmentLister возвращает платежи рассрочки заказа.
type InstallmentLister interface {
	ListByOrder(ctx context.Context, orderID int64) ([]*domain.Installment, error)
}

// ResyncItem - результат сверки одного намерения заказа.
type ResyncItem struct {
	IntentID          string           `json:"payment_intent_id"`
	PaymentType       domain.SliceType `json:"payment_type"`
	InstallmentNumber int              `json:"installment_number,omitempty"`
	IntentStatus      string           `json:"intent_status,omitempty"`
	Committed         bool             `json:"committed"`
	AlreadyProcessed  bool             `json:"already_processed"`
	Skipped           bool             `json:"skipped,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// Resyncer сверяет все намерения заказа с процессором. Используется
// администратором, когда вебхук потерян, а клиент не вернулся на сайт.
type Resyncer struct {
	intents      IntentRetriever
	reconciler   Reconciler
	orders       OrderReader
	installments InstallmentLister
}

// NewResyncer создаёт Resyncer.
func NewResyncer(intents IntentRetriever, reconciler Reconciler, orders OrderReader, installments InstallmentLister) *Resyncer {
	return &Resyncer{intents: intents, reconciler: reconciler, orders: orders, installments: installments}
}

type resyncTarget struct {
	intentID string
	slice    domain.SliceType
	number   int
}

// Resync получает каждое намерение заказа у процессора и передаёт
// завершённые в Reconciler с источником resync.
func (r *Resyncer) Resync(ctx context.Context, orderID int64) ([]ResyncItem, error) {
	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithPaymentFields(ctx, order.ID, "")

	targets := lo.FilterMap(lo.Values(order.Slices), func(s *domain.PaymentSlice, _ int) (resyncTarget, bool) {
		return resyncTarget{intentID: s.IntentID, slice: s.Type}, s.Active()
	})
	slices.SortFunc(targets, func(a, b resyncTarget) int { return cmp.Compare(a.slice, b.slice) })

	if r.installments != nil && order.PaymentMode == domain.PaymentModeInstallments {
		list, err := r.installments.ListByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, lo.FilterMap(list, func(i *domain.Installment, _ int) (resyncTarget, bool) {
			return resyncTarget{intentID: i.IntentID, slice: domain.SliceInstallment, number: i.Number}, i.Number > 1 && i.IntentID != ""
		})...)
	}

	items := make([]ResyncItem, 0, len(targets))
	for _, t := range targets {
		items = append(items, r.resyncOne(ctx, order.ID, t))
	}

	logger.Ctx(ctx).Info().
		Int("intents", len(items)).
		Int("committed", lo.CountBy(items, func(i ResyncItem) bool { return i.Committed })).
		Msg("Сверка заказа с процессором завершена")
	return items, nil
}

func (r *Resyncer) resyncOne(ctx context.Context, orderID int64, t resyncTarget) ResyncItem {
	item := ResyncItem{IntentID: t.intentID, PaymentType: t.slice, InstallmentNumber: t.number}

	intent, err := r.intents.RetrieveIntent(ctx, t.intentID)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.IntentStatus = string(intent.Status)

	c, ok := intent.Confirmation(domain.SourceResync)
	if !ok {
		item.Skipped = true
		return item
	}
	// Старые намерения могут не иметь метаданных.
	if c.Metadata.OrderID == 0 {
		c.Metadata.OrderID = orderID
		c.Metadata.PaymentType = t.slice
		c.Metadata.InstallmentNumber = t.number
	}

	out, err := r.reconciler.Reconcile(ctx, c)
	switch {
	case errors.Is(err, domain.ErrConflict):
		item.Skipped = true
		item.Error = err.Error()
	case err != nil:
		item.Error = err.Error()
	default:
		item.Committed = out.Committed
		item.AlreadyProcessed = out.AlreadyProcessed
	}
	return item
}
