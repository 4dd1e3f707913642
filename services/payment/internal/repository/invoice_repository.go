package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// InvoiceModel - GORM модель таблицы invoices. Один счёт на заказ.
type InvoiceModel struct {
	ID            int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID       int64           `gorm:"column:order_id;not null;uniqueIndex"`
	InvoiceNumber string          `gorm:"column:invoice_number;type:varchar(50);not null"`
	FileName      string          `gorm:"column:file_name;type:varchar(255);not null"`
	Total         decimal.Decimal `gorm:"column:total;type:decimal(10,2);not null"`
	AmountPaid    decimal.Decimal `gorm:"column:amount_paid;type:decimal(10,2);not null"`
	Currency      string          `gorm:"column:currency;type:varchar(3);not null"`
	GeneratedAt   time.Time       `gorm:"column:generated_at;not null"`
}

// TableName возвращает имя таблицы в БД.
func (InvoiceModel) TableName() string { return "invoices" }

// InvoiceRepository - хранилище метаданных счетов.
type InvoiceRepository interface {
	// Upsert создаёт счёт или перезаписывает существующий счёт заказа.
	Upsert(ctx context.Context, inv *domain.Invoice) error
	GetByOrderID(ctx context.Context, orderID int64) (*domain.Invoice, error)
}

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository создаёт репозиторий счетов.
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Upsert(ctx context.Context, inv *domain.Invoice) error {
	model := &InvoiceModel{
		OrderID:       inv.OrderID,
		InvoiceNumber: inv.Number,
		FileName:      inv.FileName,
		Total:         inv.Total,
		AmountPaid:    inv.AmountPaid,
		Currency:      inv.Currency,
		GeneratedAt:   inv.GeneratedAt,
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"invoice_number", "file_name", "total", "amount_paid", "currency", "generated_at"}),
	}).Create(model).Error; err != nil {
		return domain.Persistence(err)
	}

	inv.ID = model.ID
	return nil
}

func (r *invoiceRepository) GetByOrderID(ctx context.Context, orderID int64) (*domain.Invoice, error) {
	var model InvoiceModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, domain.Persistence(err)
	}

	return &domain.Invoice{
		ID:          model.ID,
		OrderID:     model.OrderID,
		Number:      model.InvoiceNumber,
		FileName:    model.FileName,
		Total:       model.Total,
		AmountPaid:  model.AmountPaid,
		Currency:    model.Currency,
		GeneratedAt: model.GeneratedAt,
	}, nil
}
