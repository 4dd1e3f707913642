// Package repository содержит GORM реализацию хранилища заказов, рассрочки,
// ссылок на оплату, счетов и уведомлений.
package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/payment-reconciler/pkg/outbox"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// OrderModel - GORM модель таблицы orders.
type OrderModel struct {
	ID                    int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderNumber           string          `gorm:"column:order_number;type:varchar(50);not null;uniqueIndex"`
	CustomerID            int64           `gorm:"column:customer_id;not null;index"`
	TotalAmount           decimal.Decimal `gorm:"column:total_amount;type:decimal(10,2);not null"`
	DepositAmount         decimal.Decimal `gorm:"column:deposit_amount;type:decimal(10,2);not null;default:0"`
	RemainingAmount       decimal.Decimal `gorm:"column:remaining_amount;type:decimal(10,2);not null;default:0"`
	Currency              string          `gorm:"column:currency;type:varchar(3);not null"`
	PaymentMode           string          `gorm:"column:payment_mode;type:varchar(20);not null"`
	Status                string          `gorm:"column:status;type:varchar(20);not null;index"`
	PaymentStatus         string          `gorm:"column:payment_status;type:varchar(20);not null;index"`
	ConfirmationEmailSent bool            `gorm:"column:confirmation_email_sent;not null;default:false"`
	ConfirmedAt           *time.Time      `gorm:"column:confirmed_at"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`

	Customer *CustomerModel     `gorm:"foreignKey:CustomerID;references:ID"`
	Items    []OrderItemModel   `gorm:"foreignKey:OrderID;references:ID"`
	Slices   []PaymentSliceModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string { return "orders" }

// PaymentSliceModel - строка order_payment_slices. Один срез каждого типа на заказ,
// intent_id уникален: по нему резолвятся события процессора.
type PaymentSliceModel struct {
	ID            int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID       int64           `gorm:"column:order_id;not null;uniqueIndex:uq_slice_order_type"`
	SliceType     string          `gorm:"column:slice_type;type:varchar(20);not null;uniqueIndex:uq_slice_order_type"`
	IntentID      *string         `gorm:"column:intent_id;type:varchar(255);uniqueIndex"`
	Status        string          `gorm:"column:status;type:varchar(20);not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	FailureReason *string         `gorm:"column:failure_reason;type:text"`
	PaidAt        *time.Time      `gorm:"column:paid_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentSliceModel) TableName() string { return "order_payment_slices" }

// OrderItemModel - позиция заказа.
type OrderItemModel struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID     int64           `gorm:"column:order_id;not null;index"`
	Description string          `gorm:"column:description;type:varchar(255);not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:decimal(10,2);not null"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:decimal(10,2);not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string { return "order_items" }

// CustomerModel - покупатель (только поля, нужные платежам).
type CustomerModel struct {
	ID               int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Email            string  `gorm:"column:email;type:varchar(255);not null"`
	FirstName        string  `gorm:"column:first_name;type:varchar(100)"`
	LastName         string  `gorm:"column:last_name;type:varchar(100)"`
	StripeCustomerID *string `gorm:"column:stripe_customer_id;type:varchar(255)"`
}

// TableName возвращает имя таблицы в БД.
func (CustomerModel) TableName() string { return "customers" }

// CartItemModel - позиция корзины. Сервис платежей только очищает корзину.
type CartItemModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CustomerID int64     `gorm:"column:customer_id;not null;index"`
	ItemType   string    `gorm:"column:item_type;type:varchar(50)"`
	ItemID     int64     `gorm:"column:item_id"`
	Quantity   int       `gorm:"column:quantity;not null;default:1"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (CartItemModel) TableName() string { return "cart_items" }

// Models возвращает все модели для автомиграции.
func Models() []any {
	return []any{
		&CustomerModel{},
		&OrderModel{},
		&OrderItemModel{},
		&PaymentSliceModel{},
		&InstallmentModel{},
		&PaymentLinkModel{},
		&InvoiceModel{},
		&AdminNotificationModel{},
		&CartItemModel{},
		&outbox.Model{},
	}
}

// =============================================================================
// Конвертация
// =============================================================================

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:                    m.ID,
		OrderNumber:           m.OrderNumber,
		CustomerID:            m.CustomerID,
		TotalAmount:           m.TotalAmount,
		DepositAmount:         m.DepositAmount,
		RemainingAmount:       m.RemainingAmount,
		Currency:              m.Currency,
		PaymentMode:           domain.PaymentMode(m.PaymentMode),
		Status:                domain.OrderStatus(m.Status),
		PaymentStatus:         domain.PaymentStatus(m.PaymentStatus),
		ConfirmationEmailSent: m.ConfirmationEmailSent,
		ConfirmedAt:           m.ConfirmedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
		Items:                 make([]domain.LineItem, len(m.Items)),
		Slices:                make(map[domain.SliceType]*domain.PaymentSlice, len(m.Slices)),
	}
	if m.Customer != nil {
		o.Customer = m.Customer.toDomain()
	}
	for i, item := range m.Items {
		o.Items[i] = domain.LineItem{
			ID:          item.ID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.TotalPrice,
		}
	}
	for i := range m.Slices {
		s := m.Slices[i].toDomain()
		o.Slices[s.Type] = s
	}
	return o
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:                    o.ID,
		OrderNumber:           o.OrderNumber,
		CustomerID:            o.CustomerID,
		TotalAmount:           o.TotalAmount,
		DepositAmount:         o.DepositAmount,
		RemainingAmount:       o.RemainingAmount,
		Currency:              o.Currency,
		PaymentMode:           string(o.PaymentMode),
		Status:                string(o.Status),
		PaymentStatus:         string(o.PaymentStatus),
		ConfirmationEmailSent: o.ConfirmationEmailSent,
		ConfirmedAt:           o.ConfirmedAt,
		Items:                 make([]OrderItemModel, len(o.Items)),
	}
	for i, item := range o.Items {
		m.Items[i] = OrderItemModel{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.Total,
		}
	}
	for _, t := range domain.OrderSliceTypes {
		if s, ok := o.Slices[t]; ok {
			m.Slices = append(m.Slices, *sliceModelFromDomain(o.ID, s))
		}
	}
	return m
}

func (m *PaymentSliceModel) toDomain() *domain.PaymentSlice {
	s := &domain.PaymentSlice{
		Type:      domain.SliceType(m.SliceType),
		Status:    domain.SliceStatus(m.Status),
		Amount:    m.Amount,
		PaidAt:    m.PaidAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.IntentID != nil {
		s.IntentID = *m.IntentID
	}
	if m.FailureReason != nil {
		s.FailureReason = *m.FailureReason
	}
	return s
}

func sliceModelFromDomain(orderID int64, s *domain.PaymentSlice) *PaymentSliceModel {
	m := &PaymentSliceModel{
		OrderID:   orderID,
		SliceType: string(s.Type),
		Status:    string(s.Status),
		Amount:    s.Amount,
		PaidAt:    s.PaidAt,
	}
	if m.Status == "" {
		m.Status = string(domain.SliceStatusPending)
	}
	m.IntentID = nullString(s.IntentID)
	m.FailureReason = nullString(s.FailureReason)
	return m
}

func (m *CustomerModel) toDomain() *domain.Customer {
	c := &domain.Customer{
		ID:        m.ID,
		Email:     m.Email,
		FirstName: m.FirstName,
		LastName:  m.LastName,
	}
	if m.StripeCustomerID != nil {
		c.ExternalRef = *m.StripeCustomerID
	}
	return c
}

// nullString превращает пустую строку в NULL: уникальный индекс intent_id
// допускает много NULL, но не много пустых строк.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKeyError проверяет нарушение уникального ключа (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "1062")
}
