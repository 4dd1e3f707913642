package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// InstallmentModel - GORM модель таблицы payment_installments.
type InstallmentModel struct {
	ID                int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID           int64           `gorm:"column:order_id;not null;uniqueIndex:uq_installment_order_number"`
	CustomerID        int64           `gorm:"column:customer_id;not null;index"`
	InstallmentNumber int             `gorm:"column:installment_number;not null;uniqueIndex:uq_installment_order_number"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	Currency          string          `gorm:"column:currency;type:varchar(3);not null"`
	DueDate           time.Time       `gorm:"column:due_date;not null;index:idx_installment_due"`
	Status            string          `gorm:"column:status;type:varchar(20);not null;index:idx_installment_due"`
	IntentID          *string         `gorm:"column:stripe_payment_intent_id;type:varchar(255);uniqueIndex"`
	CustomerRef       string          `gorm:"column:stripe_customer_id;type:varchar(255)"`
	PaymentMethodRef  string          `gorm:"column:stripe_payment_method_id;type:varchar(255)"`
	AttemptCount      int             `gorm:"column:attempt_count;not null;default:0"`
	LastAttemptAt     *time.Time      `gorm:"column:last_attempt_at"`
	FailureReason     *string         `gorm:"column:failure_reason;type:text"`
	PaidAt            *time.Time      `gorm:"column:paid_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`

	// Поля только для чтения из JOIN при выборке к списанию.
	OrderNumber   string `gorm:"column:order_number;->;-:migration"`
	CustomerEmail string `gorm:"column:customer_email;->;-:migration"`
}

// TableName возвращает имя таблицы в БД.
func (InstallmentModel) TableName() string { return "payment_installments" }

func (m *InstallmentModel) toDomain() *domain.Installment {
	inst := &domain.Installment{
		ID:               m.ID,
		OrderID:          m.OrderID,
		CustomerID:       m.CustomerID,
		Number:           m.InstallmentNumber,
		Amount:           m.Amount,
		Currency:         m.Currency,
		DueDate:          m.DueDate,
		Status:           domain.InstallmentStatus(m.Status),
		CustomerRef:      m.CustomerRef,
		PaymentMethodRef: m.PaymentMethodRef,
		AttemptCount:     m.AttemptCount,
		LastAttemptAt:    m.LastAttemptAt,
		PaidAt:           m.PaidAt,
		OrderNumber:      m.OrderNumber,
		CustomerEmail:    m.CustomerEmail,
	}
	if m.IntentID != nil {
		inst.IntentID = *m.IntentID
	}
	if m.FailureReason != nil {
		inst.FailureReason = *m.FailureReason
	}
	return inst
}

func installmentModelFromDomain(i *domain.Installment) *InstallmentModel {
	return &InstallmentModel{
		ID:                i.ID,
		OrderID:           i.OrderID,
		CustomerID:        i.CustomerID,
		InstallmentNumber: i.Number,
		Amount:            i.Amount,
		Currency:          i.Currency,
		DueDate:           i.DueDate,
		Status:            string(i.Status),
		IntentID:          nullString(i.IntentID),
		CustomerRef:       i.CustomerRef,
		PaymentMethodRef:  i.PaymentMethodRef,
		AttemptCount:      i.AttemptCount,
		LastAttemptAt:     i.LastAttemptAt,
		FailureReason:     nullString(i.FailureReason),
		PaidAt:            i.PaidAt,
	}
}

// InstallmentRepository - хранилище платежей рассрочки.
type InstallmentRepository interface {
	// ListDue возвращает pending платежи со сроком не позже now,
	// у которых сохранён платёжный профиль клиента.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Installment, error)
	GetByOrderAndNumber(ctx context.Context, orderID int64, number int) (*domain.Installment, error)
	FindByIntent(ctx context.Context, intentID string) (*domain.Installment, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*domain.Installment, error)

	// MarkPaid переводит платёж в paid. Последний оплаченный платёж
	// переводит заказ в paid.
	MarkPaid(ctx context.Context, tr domain.Transition) (bool, error)

	// MarkFailed переводит pending платёж в failed. Заказ не меняется.
	MarkFailed(ctx context.Context, tr domain.Transition) (bool, error)

	// RecordAttempt увеличивает счётчик попыток списания.
	RecordAttempt(ctx context.Context, id int64, at time.Time) error
}

type installmentRepository struct {
	db     *gorm.DB
	events eventLog
}

// NewInstallmentRepository создаёт репозиторий рассрочки.
func NewInstallmentRepository(db *gorm.DB, publishEvents bool) InstallmentRepository {
	return &installmentRepository{db: db, events: eventLog{enabled: publishEvents}}
}

func (r *installmentRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Installment, error) {
	var models []InstallmentModel

	query := r.db.WithContext(ctx).
		Table("payment_installments AS i").
		Select("i.*, o.order_number AS order_number, c.email AS customer_email").
		Joins("JOIN orders o ON o.id = i.order_id").
		Joins("LEFT JOIN customers c ON c.id = i.customer_id").
		Where("i.status = ? AND i.due_date <= ? AND i.stripe_customer_id <> ''",
			string(domain.InstallmentStatusPending), now).
		Order("i.due_date ASC, i.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&models).Error; err != nil {
		return nil, domain.Persistence(err)
	}

	result := make([]*domain.Installment, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

func (r *installmentRepository) GetByOrderAndNumber(ctx context.Context, orderID int64, number int) (*domain.Installment, error) {
	return r.first(ctx, "order_id = ? AND installment_number = ?", orderID, number)
}

func (r *installmentRepository) FindByIntent(ctx context.Context, intentID string) (*domain.Installment, error) {
	return r.first(ctx, "stripe_payment_intent_id = ?", intentID)
}

func (r *installmentRepository) first(ctx context.Context, query string, args ...any) (*domain.Installment, error) {
	var model InstallmentModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInstallmentNotFound
		}
		return nil, domain.Persistence(err)
	}
	return model.toDomain(), nil
}

func (r *installmentRepository) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Installment, error) {
	var models []InstallmentModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("installment_number ASC").
		Find(&models).Error; err != nil {
		return nil, domain.Persistence(err)
	}

	result := make([]*domain.Installment, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

func (r *installmentRepository) MarkPaid(ctx context.Context, tr domain.Transition) (bool, error) {
	won := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&InstallmentModel{}).
			Where("id = ? AND status IN ?", tr.InstallmentID,
				[]string{string(domain.InstallmentStatusPending), string(domain.InstallmentStatusFailed)}).
			Updates(map[string]any{
				"status":                   string(domain.InstallmentStatusPaid),
				"stripe_payment_intent_id": tr.IntentID,
				"paid_at":                  tr.At,
				"failure_reason":           nil,
				"updated_at":               tr.At,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true

		var unpaid int64
		if err := tx.Model(&InstallmentModel{}).
			Where("order_id = ? AND status <> ?", tr.OrderID, string(domain.InstallmentStatusPaid)).
			Count(&unpaid).Error; err != nil {
			return err
		}
		if unpaid == 0 {
			if err := tx.Model(&OrderModel{}).
				Where("id = ?", tr.OrderID).
				Updates(map[string]any{
					"payment_status":   string(domain.PaymentStatusPaid),
					"remaining_amount": decimal.Zero,
					"updated_at":       tr.At,
				}).Error; err != nil {
				return err
			}
		}

		return r.events.append(ctx, tx, tr.Event)
	})
	if err != nil {
		return false, translate(err)
	}
	return won, nil
}

func (r *installmentRepository) MarkFailed(ctx context.Context, tr domain.Transition) (bool, error) {
	won := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":         string(domain.InstallmentStatusFailed),
			"failure_reason": tr.FailureReason,
			"updated_at":     tr.At,
		}
		if tr.IntentID != "" {
			updates["stripe_payment_intent_id"] = tr.IntentID
		}

		result := tx.Model(&InstallmentModel{}).
			Where("id = ? AND status = ?", tr.InstallmentID, string(domain.InstallmentStatusPending)).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true

		return r.events.append(ctx, tx, tr.Event)
	})
	if err != nil {
		return false, translate(err)
	}
	return won, nil
}

func (r *installmentRepository) RecordAttempt(ctx context.Context, id int64, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&InstallmentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + ?", 1),
			"last_attempt_at": at,
		}).Error; err != nil {
		return domain.Persistence(err)
	}
	return nil
}
