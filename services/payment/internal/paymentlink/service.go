// Package paymentlink - одноразовые ссылки, по которым клиент оплачивает
// срез заказа. Ссылку создаёт администратор, клиент открывает её и получает
// client secret намерения, созданного с полными метаданными.
package paymentlink

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/repository"
)

// Orders - операции с заказом, нужные ссылкам.
type Orders interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	AttachIntent(ctx context.Context, orderID int64, t domain.SliceType, intentID string, amount decimal.Decimal) error
	UpdatePaymentStrategy(ctx context.Context, orderID int64, s domain.PaymentStrategy, at time.Time) (*domain.Order, error)
}

// Invoices находит счёт заказа.
type Invoices interface {
	GetByOrderID(ctx context.Context, orderID int64) (*domain.Invoice, error)
}

// Customers сохраняет клиента процессора.
type Customers interface {
	SetExternalRef(ctx context.Context, customerID int64, ref string) error
}

// Processor - операции процессора для оплаты по ссылке.
type Processor interface {
	CreateIntent(ctx context.Context, p processor.CreateIntentParams) (*processor.Intent, error)
	CreateCustomer(ctx context.Context, p processor.CustomerParams) (string, error)
}

// Config - настройки ссылок.
type Config struct {
	DefaultTTL time.Duration
	// PublicURL - адрес витрины, к нему добавляется /pay/{token}.
	PublicURL string
}

// GenerateParams - параметры новой ссылки.
type GenerateParams struct {
	OrderID     int64
	PaymentType domain.SliceType
	TTL         time.Duration
	CreatedBy   string
}

// LinkView - ссылка вместе с заказом для страницы оплаты.
type LinkView struct {
	Link  *domain.PaymentLink
	Order *domain.Order
	URL   string
}

// CheckoutResult - данные для подтверждения оплаты на клиенте.
type CheckoutResult struct {
	IntentID     string          `json:"payment_intent_id"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Installments int             `json:"installments"`
}

// Service управляет ссылками на оплату.
type Service struct {
	links     repository.PaymentLinkRepository
	orders    Orders
	customers Customers
	processor Processor
	invoices  Invoices
	cfg       Config
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithInvoices включает выдачу счёта по ссылке.
func WithInvoices(inv Invoices) Option {
	return func(s *Service) { s.invoices = inv }
}

// NewService создаёт Service. processor может быть nil, если ключ
// процессора не настроен: тогда Checkout вернёт ErrProcessorNotConfigured.
func NewService(links repository.PaymentLinkRepository, orders Orders, customers Customers, proc Processor, cfg Config, opts ...Option) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * 24 * time.Hour
	}
	s := &Service{
		links:     links,
		orders:    orders,
		customers: customers,
		processor: proc,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate создаёт ссылку на оплату среза. Сумма берётся из заказа.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*LinkView, error) {
	switch p.PaymentType {
	case domain.SliceFull, domain.SliceDeposit, domain.SliceBalance:
	default:
		return nil, domain.ErrUnknownSliceType
	}

	order, err := s.orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if err := payable(order, p.PaymentType); err != nil {
		return nil, err
	}

	amount := order.AmountFor(p.PaymentType)
	if p.PaymentType == domain.SliceFull {
		amount = order.TotalAmount
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	link := &domain.PaymentLink{
		Token:       domain.NewLinkToken(),
		OrderID:     order.ID,
		PaymentType: p.PaymentType,
		Amount:      amount,
		Status:      domain.LinkStatusActive,
		ExpiresAt:   s.now().UTC().Add(ttl),
		CreatedBy:   p.CreatedBy,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Int64("order_id", order.ID).
		Str("payment_type", string(p.PaymentType)).
		Str("amount", amount.StringFixed(2)).
		Time("expires_at", link.ExpiresAt).
		Msg("Создана ссылка на оплату")

	return s.view(link, order), nil
}

// Validate проверяет, что по ссылке можно платить.
func (s *Service) Validate(ctx context.Context, token string) (*LinkView, error) {
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := link.Usable(s.now()); err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, link.OrderID)
	if err != nil {
		return nil, err
	}
	if err := payable(order, link.PaymentType); err != nil {
		return nil, err
	}
	return s.view(link, order), nil
}

// Access проверяет ссылку и учитывает её открытие клиентом.
func (s *Service) Access(ctx context.Context, token string) (*LinkView, error) {
	view, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.links.RecordAccess(ctx, token, s.now().UTC()); err != nil {
		// Счётчик открытий не должен мешать оплате.
		logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось учесть открытие ссылки")
	}
	return view, nil
}

// Checkout создаёт намерение для оплаты по ссылке и привязывает его к срезу.
// installments=3 доступно только для полной оплаты: списывается первая треть,
// карта сохраняется для следующих платежей.
func (s *Service) Checkout(ctx context.Context, token string, installments int) (*CheckoutResult, error) {
	if s.processor == nil {
		return nil, domain.ErrProcessorNotConfigured
	}
	if installments == 0 {
		installments = 1
	}
	if installments != 1 && installments != domain.InstallmentCount {
		return nil, domain.ErrInvalidInstallmentCount
	}

	view, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	link, order := view.Link, view.Order

	plan := installments == domain.InstallmentCount
	if plan && link.PaymentType != domain.SliceFull {
		return nil, domain.ErrInstallmentsRequireFull
	}

	meta := domain.Metadata{
		OrderID:          order.ID,
		PaymentType:      link.PaymentType,
		PaymentLinkToken: link.Token,
	}
	amount := link.Amount
	var customerRef string
	if plan {
		amount = domain.SplitInstallments(order.TotalAmount, domain.InstallmentCount)[0]
		meta.InstallmentCount = domain.InstallmentCount
		meta.InstallmentNumber = 1
		if customerRef, err = s.ensureCustomer(ctx, order); err != nil {
			return nil, err
		}
	}

	intent, err := s.processor.CreateIntent(ctx, processor.CreateIntentParams{
		Amount:      amount,
		Currency:    order.Currency,
		CustomerRef: customerRef,
		Description: fmt.Sprintf("Заказ %s (%s)", order.OrderNumber, link.PaymentType),
		Metadata:    meta,
		OrderNumber: order.OrderNumber,
		SaveCard:    plan,
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.AttachIntent(ctx, order.ID, link.PaymentType, intent.ID, amount); err != nil {
		return nil, err
	}

	logger.Ctx(logger.WithPaymentFields(ctx, order.ID, intent.ID)).Info().
		Str("payment_type", string(link.PaymentType)).
		Int("installments", installments).
		Msg("Создано намерение по ссылке на оплату")

	return &CheckoutResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		Currency:     order.Currency,
		Installments: installments,
	}, nil
}

// Revoke отзывает активную ссылку.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if err := s.links.Revoke(ctx, token); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Msg("Ссылка на оплату отозвана")
	return nil
}

// ListByOrder возвращает все ссылки заказа для back-office.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]*LinkView, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	links, err := s.links.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	views := make([]*LinkView, len(links))
	for i, link := range links {
		views[i] = s.view(link, order)
	}
	return views, nil
}

// Invoice возвращает счёт заказа, срез которого оплачен по этой ссылке.
func (s *Service) Invoice(ctx context.Context, token string) (*domain.Invoice, error) {
	if s.invoices == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetByID(ctx, link.OrderID)
	if err != nil {
		return nil, err
	}
	if sl, ok := order.Slice(link.PaymentType); !ok || !sl.Paid() {
		return nil, domain.ErrInvoiceNotReady
	}
	return s.invoices.GetByOrderID(ctx, order.ID)
}

// SetStrategy меняет способ оплаты заказа до первого платежа.
// Активные ссылки отзываются: их суммы посчитаны для прежнего способа.
func (s *Service) SetStrategy(ctx context.Context, orderID int64, st domain.PaymentStrategy) (*domain.Order, error) {
	order, err := s.orders.UpdatePaymentStrategy(ctx, orderID, st, s.now().UTC())
	if err != nil {
		return nil, err
	}

	revoked, err := s.links.RevokeByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Int64("order_id", orderID).
		Str("payment_mode", string(order.PaymentMode)).
		Str("deposit", order.DepositAmount.StringFixed(2)).
		Int64("revoked_links", revoked).
		Msg("Способ оплаты заказа изменён")
	return order, nil
}

// CleanExpired удаляет неиспользованные истёкшие ссылки.
func (s *Service) CleanExpired(ctx context.Context) (int64, error) {
	return s.links.DeleteExpired(ctx, s.now().UTC())
}

func (s *Service) ensureCustomer(ctx context.Context, order *domain.Order) (string, error) {
	if order.Customer == nil {
		return "", domain.ErrMissingCustomerRef
	}
	if order.Customer.ExternalRef != "" {
		return order.Customer.ExternalRef, nil
	}

	ref, err := s.processor.CreateCustomer(ctx, processor.CustomerParams{
		Email:   order.Customer.Email,
		Name:    order.Customer.FullName(),
		OrderID: order.ID,
	})
	if err != nil {
		return "", err
	}
	if err := s.customers.SetExternalRef(ctx, order.CustomerID, ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Service) view(link *domain.PaymentLink, order *domain.Order) *LinkView {
	return &LinkView{Link: link, Order: order, URL: s.cfg.PublicURL + "/pay/" + link.Token}
}

// payable проверяет, что срез заказа ещё можно оплатить.
func payable(order *domain.Order, t domain.SliceType) error {
	if order.Status == domain.OrderStatusCancelled {
		return fmt.Errorf("%w: заказ %s отменён", domain.ErrConflict, order.OrderNumber)
	}
	if s, ok := order.Slice(t); ok && s.Paid() {
		return domain.ErrSliceAlreadyPaid
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return domain.ErrSliceAlreadyPaid
	}
	if t == domain.SliceBalance {
		if dep, ok := order.Slice(domain.SliceDeposit); !ok || !dep.Paid() {
			return domain.ErrBalanceBeforeDeposit
		}
	}
	return nil
}
