// Package ingress приводит входящие сигналы процессора (вебхук и проверку
// клиентом) к domain.PaymentConfirmation и передаёт их в Reconciler.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/metrics"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
)

// Типы событий процессора, которые меняют состояние.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded  = "charge.refunded"
)

// Reconciler применяет подтверждение.
type Reconciler interface {
	Reconcile(ctx context.Context, c domain.PaymentConfirmation) (*reconcile.Outcome, error)
}

// =============================================================================
// Разбор и проверка подписи
// =============================================================================

// WebhookParser проверяет подпись и разбирает событие.
type WebhookParser struct {
	secret        string
	allowUnsigned bool
}

// NewWebhookParser создаёт парсер. allowUnsigned должен приходить из
// config.UnsignedWebhooksAllowed(), который всегда false в production.
func NewWebhookParser(secret string, allowUnsigned bool) *WebhookParser {
	return &WebhookParser{secret: secret, allowUnsigned: allowUnsigned}
}

// Parse возвращает событие или ErrSignature / ErrValidation.
func (p *WebhookParser) Parse(payload []byte, signature string) (stripe.Event, error) {
	if p.secret == "" || (signature == "" && p.allowUnsigned) {
		if !p.allowUnsigned {
			return stripe.Event{}, fmt.Errorf("%w: секрет вебхука не настроен", domain.ErrSignature)
		}
		var ev stripe.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return stripe.Event{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		logger.Warn().Str("event_id", ev.ID).Msg("Событие принято без проверки подписи")
		return ev, nil
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrTooOld) {
			return stripe.Event{}, fmt.Errorf("%w: %w", domain.ErrSignature, err)
		}
		return stripe.Event{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return ev, nil
}

// ConfirmationFromEvent приводит событие к подтверждению.
// ok=false для событий, которые не меняют состояние (включая частичный возврат).
func ConfirmationFromEvent(ev stripe.Event) (domain.PaymentConfirmation, bool, error) {
	if ev.Data == nil {
		return domain.PaymentConfirmation{}, false, fmt.Errorf("%w: событие без данных", domain.ErrValidation)
	}

	switch string(ev.Type) {
	case EventIntentSucceeded, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return domain.PaymentConfirmation{}, false, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		intent := processor.IntentFromStripe(&pi)
		c := domain.PaymentConfirmation{
			IntentID:         intent.ID,
			Status:           domain.ConfirmationSucceeded,
			Source:           domain.SourceWebhook,
			Metadata:         intent.Metadata,
			CustomerRef:      intent.CustomerRef,
			PaymentMethodRef: intent.PaymentMethodRef,
			EventID:          ev.ID,
		}
		if string(ev.Type) == EventIntentFailed {
			c.Status = domain.ConfirmationFailed
			c.FailureReason = intent.FailureReason
		}
		return c, true, nil

	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return domain.PaymentConfirmation{}, false, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		// Частичный возврат не меняет состояние заказа.
		if !ch.Refunded || ch.PaymentIntent == nil {
			return domain.PaymentConfirmation{}, false, nil
		}
		return domain.PaymentConfirmation{
			IntentID: ch.PaymentIntent.ID,
			Status:   domain.ConfirmationRefunded,
			Source:   domain.SourceWebhook,
			Metadata: processor.ParseMetadata(ch.Metadata),
			EventID:  ev.ID,
		}, true, nil
	}

	return domain.PaymentConfirmation{}, false, nil
}

// =============================================================================
// Обработка вебхука
// =============================================================================

// WebhookResult - итог обработки события.
type WebhookResult struct {
	EventID          string `json:"event_id"`
	EventType        string `json:"event_type"`
	Ignored          bool   `json:"ignored,omitempty"`
	Committed        bool   `json:"committed,omitempty"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// WebhookService обрабатывает вебхуки процессора.
type WebhookService struct {
	parser     *WebhookParser
	reconciler Reconciler
	dedupe     *EventDedupe
}

// NewWebhookService создаёт сервис. dedupe может быть nil.
func NewWebhookService(parser *WebhookParser, reconciler Reconciler, dedupe *EventDedupe) *WebhookService {
	return &WebhookService{parser: parser, reconciler: reconciler, dedupe: dedupe}
}

// Handle проверяет, разбирает и применяет событие.
// Ошибка ErrNotFound означает, что намерение не относится ни к одному заказу.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := s.parser.Parse(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	ctx = logger.WithCorrelationID(ctx, ev.ID)
	log := logger.Ctx(ctx)
	res := &WebhookResult{EventID: ev.ID, EventType: string(ev.Type)}

	if s.dedupe.Seen(ctx, ev.ID) {
		res.AlreadyProcessed = true
		s.count(res, "duplicate")
		log.Info().Str("event_type", res.EventType).Msg("Событие уже обработано")
		return res, nil
	}

	c, ok, err := ConfirmationFromEvent(ev)
	if err != nil {
		s.count(res, "rejected")
		return nil, err
	}
	if !ok {
		res.Ignored = true
		s.count(res, "ignored")
		log.Debug().Str("event_type", res.EventType).Msg("Событие не меняет состояние")
		return res, nil
	}

	out, err := s.reconciler.Reconcile(ctx, c)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.count(res, "unknown_intent")
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrValidation):
			s.count(res, "rejected")
		default:
			s.count(res, "error")
		}
		return nil, err
	}

	res.Committed = out.Committed
	res.AlreadyProcessed = out.AlreadyProcessed
	res.Ignored = out.Ignored
	s.dedupe.Remember(ctx, ev.ID)
	switch {
	case out.Committed:
		s.count(res, "committed")
	case out.Ignored:
		s.count(res, "ignored")
	default:
		s.count(res, "already_processed")
	}
	return res, nil
}

func (s *WebhookService) count(res *WebhookResult, result string) {
	metrics.WebhookEvents.WithLabelValues(res.EventType, result).Inc()
}
