package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/payment-reconciler/pkg/circuitbreaker"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/tracing"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

var tracer = tracing.Tracer("payment/processor")

// StripeConfig - настройки клиента Stripe.
type StripeConfig struct {
	SecretKey string
	Timeout   time.Duration
	// BaseURL переопределяет адрес API (используется в тестах).
	BaseURL string
	// MaxNetworkRetries - повторы библиотеки на сетевых ошибках.
	// Повторы безопасны: POST запросы идут с ключом идемпотентности.
	MaxNetworkRetries int64
}

// StripeClient - реализация Client поверх stripe-go.
type StripeClient struct {
	sc      *stripe.Client
	breaker *circuitbreaker.Breaker
}

// NewStripeClient создаёт клиент. Отказ банка не открывает breaker:
// это ответ процессора, а не его недоступность.
func NewStripeClient(cfg StripeConfig) *StripeClient {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     leveledLogger{},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	settings := circuitbreaker.DefaultSettings()
	settings.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrCardDeclined) && !errors.Is(err, domain.ErrNotFound)
	}

	return &StripeClient{
		sc:      stripe.NewClient(cfg.SecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg))),
		breaker: circuitbreaker.New("stripe", settings),
	}
}

// RetrieveIntent получает намерение по идентификатору.
func (c *StripeClient) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	ctx, span := tracer.Start(ctx, "stripe.RetrieveIntent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", intentID))

	pi, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*stripe.PaymentIntent, error) {
		pi, err := c.sc.V1PaymentIntents.Retrieve(ctx, intentID, nil)
		return pi, classify(err)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, wrapUnavailable(err)
	}

	return IntentFromStripe(pi), nil
}

// CreateIntent создаёт намерение, которое клиент подтвердит на странице оплаты.
func (c *StripeClient) CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error) {
	ctx, span := tracer.Start(ctx, "stripe.CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.order_id", p.Metadata.OrderID))

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(ToCents(p.Amount)),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: FormatMetadata(p.Metadata),
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.OrderNumber != "" {
		params.Metadata[MetaOrderNumber] = p.OrderNumber
	}
	params.Metadata[MetaSource] = "payment_link"
	if p.CustomerRef != "" {
		params.Customer = stripe.String(p.CustomerRef)
	}
	if p.SaveCard {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}

	pi, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*stripe.PaymentIntent, error) {
		pi, err := c.sc.V1PaymentIntents.Create(ctx, params)
		return pi, classify(err)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, wrapUnavailable(err)
	}

	return IntentFromStripe(pi), nil
}

// ChargeOffSession списывает сохранённую карту клиента.
func (c *StripeClient) ChargeOffSession(ctx context.Context, p ChargeParams) (*Intent, error) {
	ctx, span := tracer.Start(ctx, "stripe.ChargeOffSession")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.order_id", p.Metadata.OrderID),
		attribute.Int("payment.installment_number", p.Metadata.InstallmentNumber),
	)

	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(ToCents(p.Amount)),
		Currency:           stripe.String(p.Currency),
		Customer:           stripe.String(p.CustomerRef),
		PaymentMethodTypes: []*string{stripe.String("card")},
		OffSession:         stripe.Bool(true),
		Confirm:            stripe.Bool(true),
		Description:        stripe.String(p.Description),
		Metadata:           FormatMetadata(p.Metadata),
	}
	if p.PaymentMethodRef != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethodRef)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*stripe.PaymentIntent, error) {
		pi, err := c.sc.V1PaymentIntents.Create(ctx, params)
		return pi, classify(err)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, wrapUnavailable(err)
	}

	intent := IntentFromStripe(pi)
	span.SetAttributes(attribute.String("payment.intent_status", string(intent.Status)))
	return intent, nil
}

// CreateCustomer создаёт клиента у процессора и возвращает его идентификатор.
func (c *StripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	ctx, span := tracer.Start(ctx, "stripe.CreateCustomer")
	defer span.End()

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(p.Email),
		Name:  stripe.String(p.Name),
	}
	if p.OrderID > 0 {
		params.AddMetadata(MetaOrderID, strconv.FormatInt(p.OrderID, 10))
	}

	cus, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*stripe.Customer, error) {
		cus, err := c.sc.V1Customers.Create(ctx, params)
		return cus, classify(err)
	})
	if err != nil {
		recordSpanError(span, err)
		return "", wrapUnavailable(err)
	}
	return cus.ID, nil
}

// =============================================================================
// Конвертация и ошибки
// =============================================================================

// IntentFromStripe переводит намерение stripe-go в Intent (также для объектов из вебхука).
func IntentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		Status:       IntentStatus(pi.Status),
		Amount:       FromCents(pi.Amount),
		Currency:     string(pi.Currency),
		Metadata:     ParseMetadata(pi.Metadata),
		ClientSecret: pi.ClientSecret,
	}
	if pi.Customer != nil {
		intent.CustomerRef = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		intent.PaymentMethodRef = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		intent.FailureReason = failureReason(pi.LastPaymentError)
	}
	return intent
}

// classify приводит ошибку stripe-go к доменной.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return domain.External(err)
	}

	switch {
	case serr.Type == stripe.ErrorTypeCard:
		d := &domain.Declined{Code: failureReason(serr), Message: serr.Msg}
		if serr.PaymentIntent != nil {
			d.IntentID = serr.PaymentIntent.ID
		}
		return d
	case serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", domain.ErrIntentNotFound, serr.Msg)
	}
	return domain.External(err)
}

func failureReason(serr *stripe.Error) string {
	switch {
	case serr.DeclineCode != "":
		return string(serr.DeclineCode)
	case serr.Code != "":
		return string(serr.Code)
	}
	return serr.Msg
}

func wrapUnavailable(err error) error {
	if errors.Is(err, circuitbreaker.ErrUnavailable) {
		return domain.External(err)
	}
	return err
}

func recordSpanError(span trace.Span, err error) {
	if errors.Is(err, domain.ErrCardDeclined) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// leveledLogger направляет журнал stripe-go в zerolog.
type leveledLogger struct{}

func (leveledLogger) Debugf(format string, v ...any) { logger.Debug().Msgf(format, v...) }
func (leveledLogger) Infof(format string, v ...any)  { logger.Debug().Msgf(format, v...) }
func (leveledLogger) Warnf(format string, v ...any)  { logger.Warn().Msgf(format, v...) }
func (leveledLogger) Errorf(format string, v ...any) { logger.Error().Msgf(format, v...) }
