// Package testutil содержит общие фейки и моки для тестов сервиса платежей.
// Ledger повторяет семантику условных UPDATE репозитория в памяти,
// поэтому на нём можно гонять конкурентные сценарии.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/repository"
)

var (
	_ repository.OrderRepository       = (*Ledger)(nil)
	_ repository.InstallmentRepository = (*InstallmentLedger)(nil)
)

// Ledger - потокобезопасное хранилище заказов и рассрочки в памяти.
type Ledger struct {
	mu           sync.Mutex
	orders       map[int64]*domain.Order
	installments map[int64]*domain.Installment
	events       []domain.PaymentEvent
	nextInstID   int64

	// FailWith, если задан, возвращается всеми операциями записи.
	FailWith error
}

// NewLedger создаёт пустое хранилище.
func NewLedger() *Ledger {
	return &Ledger{
		orders:       make(map[int64]*domain.Order),
		installments: make(map[int64]*domain.Installment),
	}
}

// Installments возвращает представление хранилища для платежей рассрочки.
func (l *Ledger) Installments() *InstallmentLedger {
	return &InstallmentLedger{l: l}
}

// Put сохраняет заказ как есть (для подготовки сценариев).
func (l *Ledger) Put(order *domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[order.ID] = cloneOrder(order)
}

// PutInstallment сохраняет платёж рассрочки как есть.
func (l *Ledger) PutInstallment(inst *domain.Installment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if inst.ID == 0 {
		l.nextInstID++
		inst.ID = l.nextInstID
	}
	cp := *inst
	l.installments[inst.ID] = &cp
}

// Events возвращает события, записанные выигранными переходами.
func (l *Ledger) Events() []domain.PaymentEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Order возвращает копию заказа или nil.
func (l *Ledger) Order(id int64) *domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[id]; ok {
		return cloneOrder(o)
	}
	return nil
}

// =============================================================================
// repository.OrderRepository
// =============================================================================

func (l *Ledger) Create(_ context.Context, order *domain.Order) error {
	if err := order.ValidateSlices(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if order.ID == 0 {
		order.ID = int64(len(l.orders) + 1)
	}
	l.orders[order.ID] = cloneOrder(order)
	return nil
}

func (l *Ledger) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (l *Ledger) FindBySliceIntent(_ context.Context, t domain.SliceType, intentID string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if s, ok := o.Slices[t]; ok && s.IntentID == intentID {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrIntentNotFound
}

func (l *Ledger) MarkSlicePaid(_ context.Context, tr domain.Transition) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return false, domain.Persistence(l.FailWith)
	}

	order, ok := l.orders[tr.OrderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if tr.Slice == domain.SliceBalance && !order.Slices[domain.SliceDeposit].Paid() {
		return false, domain.ErrBalanceBeforeDeposit
	}

	withPlan := tr.Plan != nil && tr.Slice == domain.SliceFull
	mode := order.PaymentMode
	if withPlan {
		mode = domain.PaymentModeInstallments
	}

	at := tr.At
	s, exists := order.Slices[tr.Slice]
	switch {
	case !exists:
		candidate := cloneOrder(order)
		candidate.SetSlice(&domain.PaymentSlice{Type: tr.Slice, IntentID: tr.IntentID})
		if err := candidate.ValidateSlices(); err != nil {
			return false, err
		}
		order.PaymentMode = mode
		order.SetSlice(&domain.PaymentSlice{
			Type: tr.Slice, IntentID: tr.IntentID, Status: domain.SliceStatusPaid,
			Amount: order.AmountFor(tr.Slice), PaidAt: &at, UpdatedAt: at,
		})
	case slices.Contains(domain.SourceStatuses(tr.Slice, domain.SliceStatusPaid), s.Status):
		s.Status = domain.SliceStatusPaid
		s.IntentID = tr.IntentID
		s.PaidAt = &at
		s.FailureReason = ""
		s.UpdatedAt = at
	default:
		return false, nil
	}

	order.PaymentMode = mode
	order.Apply(domain.PaidEffect(tr.Slice, order.PaymentMode), at)

	if withPlan && !l.hasPlan(order.ID) {
		for _, inst := range domain.BuildInstallments(order, tr.IntentID, *tr.Plan, at) {
			l.nextInstID++
			inst.ID = l.nextInstID
			l.installments[inst.ID] = inst
		}
	}

	l.events = append(l.events, tr.Event)
	return true, nil
}

func (l *Ledger) UpdatePaymentStrategy(_ context.Context, orderID int64, st domain.PaymentStrategy, at time.Time) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return nil, domain.Persistence(l.FailWith)
	}

	order, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	candidate := cloneOrder(order)
	if err := candidate.ApplyStrategy(st, at); err != nil {
		return nil, err
	}
	l.orders[orderID] = candidate
	return cloneOrder(candidate), nil
}

func (l *Ledger) MarkSliceFailed(_ context.Context, tr domain.Transition) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return false, domain.Persistence(l.FailWith)
	}

	order, ok := l.orders[tr.OrderID]
	if !ok {
		return false, nil
	}
	s, ok := order.Slices[tr.Slice]
	if !ok || s.IntentID != tr.IntentID ||
		!slices.Contains(domain.SourceStatuses(tr.Slice, domain.SliceStatusFailed), s.Status) {
		return false, nil
	}

	s.Status = domain.SliceStatusFailed
	s.FailureReason = tr.FailureReason
	s.UpdatedAt = tr.At
	if order.PaymentStatus == domain.PaymentStatusPending {
		order.PaymentStatus = domain.PaymentStatusFailed
	}

	l.events = append(l.events, tr.Event)
	return true, nil
}

func (l *Ledger) MarkSliceRefunded(_ context.Context, tr domain.Transition) (bool, error) {
	if tr.Slice != domain.SliceFull {
		return false, domain.ErrRefundNotFull
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return false, domain.Persistence(l.FailWith)
	}

	order, ok := l.orders[tr.OrderID]
	if !ok {
		return false, nil
	}
	s, ok := order.Slices[tr.Slice]
	if !ok || s.IntentID != tr.IntentID || s.Status != domain.SliceStatusPaid {
		return false, nil
	}

	s.Status = domain.SliceStatusRefunded
	s.UpdatedAt = tr.At
	order.Apply(domain.RefundEffect(), tr.At)

	l.events = append(l.events, tr.Event)
	return true, nil
}

func (l *Ledger) AttachIntent(_ context.Context, orderID int64, t domain.SliceType, intentID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Slices[t].Paid() {
		return domain.ErrSliceAlreadyPaid
	}

	candidate := cloneOrder(order)
	candidate.SetSlice(&domain.PaymentSlice{Type: t, IntentID: intentID, Status: domain.SliceStatusPending, Amount: amount})
	if err := candidate.ValidateSlices(); err != nil {
		return err
	}
	order.SetSlice(candidate.Slices[t])
	return nil
}

func (l *Ledger) ClaimConfirmationEmail(_ context.Context, orderID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok || order.ConfirmationEmailSent {
		return false, nil
	}
	order.ConfirmationEmailSent = true
	return true, nil
}

func (l *Ledger) ReleaseConfirmationEmail(_ context.Context, orderID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if order, ok := l.orders[orderID]; ok {
		order.ConfirmationEmailSent = false
	}
	return nil
}

func (l *Ledger) hasPlan(orderID int64) bool {
	for _, inst := range l.installments {
		if inst.OrderID == orderID {
			return true
		}
	}
	return false
}

// =============================================================================
// repository.InstallmentRepository
// =============================================================================

// InstallmentLedger - платежи рассрочки поверх общего Ledger.
type InstallmentLedger struct {
	l *Ledger
}

func (il *InstallmentLedger) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Installment, error) {
	l := il.l
	l.mu.Lock()
	defer l.mu.Unlock()

	var due []*domain.Installment
	for _, inst := range l.installments {
		if inst.Due(now) && inst.CustomerRef != "" {
			cp := *inst
			if o, ok := l.orders[inst.OrderID]; ok {
				cp.OrderNumber = o.OrderNumber
				if o.Customer != nil {
					cp.CustomerEmail = o.Customer.Email
				}
			}
			due = append(due, &cp)
		}
	}
	slices.SortFunc(due, func(a, b *domain.Installment) int { return int(a.ID - b.ID) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (il *InstallmentLedger) GetByOrderAndNumber(_ context.Context, orderID int64, number int) (*domain.Installment, error) {
	return il.find(func(i *domain.Installment) bool { return i.OrderID == orderID && i.Number == number })
}

func (il *InstallmentLedger) FindByIntent(_ context.Context, intentID string) (*domain.Installment, error) {
	return il.find(func(i *domain.Installment) bool { return i.IntentID == intentID })
}

func (il *InstallmentLedger) find(match func(*domain.Installment) bool) (*domain.Installment, error) {
	l := il.l
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, inst := range l.installments {
		if match(inst) {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, domain.ErrInstallmentNotFound
}

func (il *InstallmentLedger) ListByOrder(_ context.Context, orderID int64) ([]*domain.Installment, error) {
	l := il.l
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*domain.Installment
	for _, inst := range l.installments {
		if inst.OrderID == orderID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Installment) int { return a.Number - b.Number })
	return out, nil
}

func (il *InstallmentLedger) MarkPaid(_ context.Context, tr domain.Transition) (bool, error) {
	l := il.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return false, domain.Persistence(l.FailWith)
	}

	inst, ok := l.installments[tr.InstallmentID]
	if !ok || inst.Status == domain.InstallmentStatusPaid {
		return false, nil
	}
	at := tr.At
	inst.Status = domain.InstallmentStatusPaid
	inst.IntentID = tr.IntentID
	inst.PaidAt = &at
	inst.FailureReason = ""

	allPaid := true
	for _, other := range l.installments {
		if other.OrderID == inst.OrderID && other.Status != domain.InstallmentStatusPaid {
			allPaid = false
		}
	}
	if order, ok := l.orders[inst.OrderID]; ok && allPaid {
		order.PaymentStatus = domain.PaymentStatusPaid
		order.RemainingAmount = decimal.Zero
		order.UpdatedAt = at
	}

	l.events = append(l.events, tr.Event)
	return true, nil
}

func (il *InstallmentLedger) MarkFailed(_ context.Context, tr domain.Transition) (bool, error) {
	l := il.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return false, domain.Persistence(l.FailWith)
	}

	inst, ok := l.installments[tr.InstallmentID]
	if !ok || inst.Status != domain.InstallmentStatusPending {
		return false, nil
	}
	inst.Status = domain.InstallmentStatusFailed
	inst.FailureReason = tr.FailureReason
	if tr.IntentID != "" {
		inst.IntentID = tr.IntentID
	}

	l.events = append(l.events, tr.Event)
	return true, nil
}

func (il *InstallmentLedger) RecordAttempt(_ context.Context, id int64, at time.Time) error {
	l := il.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if inst, ok := l.installments[id]; ok {
		inst.AttemptCount++
		inst.LastAttemptAt = &at
	}
	return nil
}

// =============================================================================
// Копирование
// =============================================================================

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	if o.Customer != nil {
		c := *o.Customer
		cp.Customer = &c
	}
	cp.Items = slices.Clone(o.Items)
	cp.Slices = make(map[domain.SliceType]*domain.PaymentSlice, len(o.Slices))
	for t, s := range o.Slices {
		sc := *s
		cp.Slices[t] = &sc
	}
	return &cp
}
