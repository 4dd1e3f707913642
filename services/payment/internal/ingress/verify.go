package ingress

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/processor"
)

// IntentRetriever получает намерение у процессора.
type IntentRetriever interface {
	RetrieveIntent(ctx context.Context, intentID string) (*processor.Intent, error)
}

// OrderReader перечитывает заказ после применения подтверждения.
type OrderReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
}

// VerifyResult - ответ клиенту, вернувшемуся со страницы оплаты.
type VerifyResult struct {
	IntentID          string                 `json:"payment_intent_id"`
	IntentStatus      processor.IntentStatus `json:"intent_status"`
	Paid              bool                   `json:"paid"`
	AlreadyProcessed  bool                   `json:"already_processed"`
	OrderID           int64                  `json:"order_id,omitempty"`
	OrderNumber       string                 `json:"order_number,omitempty"`
	OrderStatus       domain.OrderStatus     `json:"order_status,omitempty"`
	PaymentStatus     domain.PaymentStatus   `json:"payment_status,omitempty"`
	PaymentType       domain.SliceType       `json:"payment_type,omitempty"`
	InstallmentNumber int                    `json:"installment_number,omitempty"`
}

// Verifier обрабатывает проверку оплаты клиентом. Параллельные запросы
// одного намерения внутри процесса схлопываются в один вызов процессора.
type Verifier struct {
	intents    IntentRetriever
	reconciler Reconciler
	orders     OrderReader
	group      singleflight.Group
}

// NewVerifier создаёт Verifier.
func NewVerifier(intents IntentRetriever, reconciler Reconciler, orders OrderReader) *Verifier {
	return &Verifier{intents: intents, reconciler: reconciler, orders: orders}
}

// Verify получает намерение у процессора и, если оно оплачено, применяет
// подтверждение. Неоплаченное намерение возвращается без изменения состояния.
func (v *Verifier) Verify(ctx context.Context, intentID string) (VerifyResult, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return VerifyResult{}, domain.ErrMissingIntentID
	}

	res, err, shared := v.group.Do(intentID, func() (any, error) {
		return v.verify(ctx, intentID)
	})
	if err != nil {
		return VerifyResult{}, err
	}
	if shared {
		logger.Ctx(ctx).Debug().Str("intent_id", intentID).Msg("Результат проверки разделён между запросами")
	}
	return res.(VerifyResult), nil
}

func (v *Verifier) verify(ctx context.Context, intentID string) (VerifyResult, error) {
	intent, err := v.intents.RetrieveIntent(ctx, intentID)
	if err != nil {
		return VerifyResult{}, err
	}

	res := VerifyResult{IntentID: intent.ID, IntentStatus: intent.Status}
	if !intent.Succeeded() {
		logger.Ctx(ctx).Info().
			Str("intent_id", intentID).
			Str("intent_status", string(intent.Status)).
			Msg("Намерение ещё не оплачено")
		return res, nil
	}

	c, _ := intent.Confirmation(domain.SourceVerification)
	out, err := v.reconciler.Reconcile(ctx, c)
	if err != nil {
		return VerifyResult{}, err
	}

	res.Paid = true
	res.AlreadyProcessed = out.AlreadyProcessed
	res.PaymentType = out.Target.Slice
	if out.Target.Installment != nil {
		res.InstallmentNumber = out.Target.Installment.Number
	}

	order, err := v.orders.GetByID(ctx, out.Target.Order.ID)
	if err != nil {
		return VerifyResult{}, err
	}
	res.OrderID = order.ID
	res.OrderNumber = order.OrderNumber
	res.OrderStatus = order.Status
	res.PaymentStatus = order.PaymentStatus
	return res, nil
}
