package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// OrderRepository - хранилище заказов и их платёжных срезов.
// Все переходы срезов выполняются одним условным UPDATE, RowsAffected
// - единственный признак того, что вызывающий выиграл переход.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)

	// FindBySliceIntent ищет заказ по намерению, сохранённому в срезе типа t.
	FindBySliceIntent(ctx context.Context, t domain.SliceType, intentID string) (*domain.Order, error)

	// MarkSlicePaid переводит срез в paid, если он ещё не оплачен.
	// Для остатка требует оплаченный депозит (ErrBalanceBeforeDeposit).
	MarkSlicePaid(ctx context.Context, tr domain.Transition) (bool, error)

	// MarkSliceFailed переводит pending срез в failed. paid не перезаписывается.
	MarkSliceFailed(ctx context.Context, tr domain.Transition) (bool, error)

	// MarkSliceRefunded переводит оплаченный full в refunded и отменяет заказ.
	MarkSliceRefunded(ctx context.Context, tr domain.Transition) (bool, error)

	// AttachIntent привязывает новое намерение к неоплаченному срезу.
	AttachIntent(ctx context.Context, orderID int64, t domain.SliceType, intentID string, amount decimal.Decimal) error

	// UpdatePaymentStrategy меняет способ оплаты неоплаченного заказа
	// и удаляет его неоплаченные срезы.
	UpdatePaymentStrategy(ctx context.Context, orderID int64, s domain.PaymentStrategy, at time.Time) (*domain.Order, error)

	// ClaimConfirmationEmail атомарно занимает флаг письма. false - письмо уже отправлено.
	ClaimConfirmationEmail(ctx context.Context, orderID int64) (bool, error)

	// ReleaseConfirmationEmail снимает флаг после неудачной отправки.
	ReleaseConfirmationEmail(ctx context.Context, orderID int64) error
}

type orderRepository struct {
	db     *gorm.DB
	events eventLog
}

// NewOrderRepository создаёт репозиторий заказов.
// publishEvents включает запись событий переходов в outbox.
func NewOrderRepository(db *gorm.DB, publishEvents bool) OrderRepository {
	return &orderRepository{db: db, events: eventLog{enabled: publishEvents}}
}

// Create сохраняет заказ с позициями и срезами.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := order.ValidateSlices(); err != nil {
		return err
	}

	model := orderModelFromDomain(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: номер заказа %s уже существует", domain.ErrConflict, order.OrderNumber)
		}
		return domain.Persistence(err)
	}

	order.ID = model.ID
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *orderRepository) first(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Customer").
		Preload("Items").
		Preload("Slices").
		Where(query, arg).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Persistence(err)
	}

	return model.toDomain(), nil
}

func (r *orderRepository) FindBySliceIntent(ctx context.Context, t domain.SliceType, intentID string) (*domain.Order, error) {
	var slice PaymentSliceModel

	if err := r.db.WithContext(ctx).
		Select("order_id").
		Where("slice_type = ? AND intent_id = ?", string(t), intentID).
		First(&slice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, domain.Persistence(err)
	}

	return r.GetByID(ctx, slice.OrderID)
}

// =============================================================================
// Переходы срезов
// =============================================================================

func (r *orderRepository) MarkSlicePaid(ctx context.Context, tr domain.Transition) (bool, error) {
	won := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order OrderModel
		if err := tx.Where("id = ?", tr.OrderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		if tr.Slice == domain.SliceBalance {
			if err := requireDepositPaid(tx, tr.OrderID); err != nil {
				return err
			}
		}

		result := tx.Model(&PaymentSliceModel{}).
			Where("order_id = ? AND slice_type = ? AND status IN ?",
				tr.OrderID, string(tr.Slice), statusStrings(domain.SourceStatuses(tr.Slice, domain.SliceStatusPaid))).
			Updates(map[string]any{
				"status":         string(domain.SliceStatusPaid),
				"intent_id":      tr.IntentID,
				"paid_at":        tr.At,
				"failure_reason": nil,
				"updated_at":     tr.At,
			})
		if result.Error != nil {
			return result.Error
		}

		withPlan := tr.Plan != nil && tr.Slice == domain.SliceFull
		mode := domain.PaymentMode(order.PaymentMode)
		if withPlan {
			mode = domain.PaymentModeInstallments
		}

		if result.RowsAffected == 0 {
			// Строки среза может не быть, если заказ оформлен без неё.
			// Вставка с DO NOTHING: конфликт ключа значит, что срез уже существует и оплачен.
			domainOrder := order.toDomain()
			domainOrder.PaymentMode = mode
			if err := requireCompatibleSlice(tx, domainOrder, tr); err != nil {
				return err
			}
			paidAt := tr.At
			row := sliceModelFromDomain(tr.OrderID, &domain.PaymentSlice{
				Type:     tr.Slice,
				IntentID: tr.IntentID,
				Status:   domain.SliceStatusPaid,
				Amount:   domainOrder.AmountFor(tr.Slice),
				PaidAt:   &paidAt,
			})
			ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
			if ins.Error != nil {
				return ins.Error
			}
			if ins.RowsAffected == 0 {
				return nil
			}
		}
		won = true

		if mode != domain.PaymentMode(order.PaymentMode) {
			// Клиент выбрал рассрочку на странице оплаты.
			if err := tx.Model(&OrderModel{}).Where("id = ?", tr.OrderID).
				Update("payment_mode", string(mode)).Error; err != nil {
				return err
			}
			order.PaymentMode = string(mode)
		}

		if err := applyOrderEffect(tx, tr.OrderID, domain.PaidEffect(tr.Slice, mode), tr.At); err != nil {
			return err
		}

		if withPlan {
			if err := createPlan(tx, order.toDomain(), tr); err != nil {
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

func (r *orderRepository) MarkSliceFailed(ctx context.Context, tr domain.Transition) (bool, error) {
	won := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PaymentSliceModel{}).
			Where("order_id = ? AND slice_type = ? AND intent_id = ? AND status IN ?",
				tr.OrderID, string(tr.Slice), tr.IntentID, statusStrings(domain.SourceStatuses(tr.Slice, domain.SliceStatusFailed))).
			Updates(map[string]any{
				"status":         string(domain.SliceStatusFailed),
				"failure_reason": tr.FailureReason,
				"updated_at":     tr.At,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true

		// Заказ становится failed, только пока по нему ничего не оплачено.
		if err := tx.Model(&OrderModel{}).
			Where("id = ? AND payment_status = ?", tr.OrderID, string(domain.PaymentStatusPending)).
			Updates(map[string]any{
				"payment_status": string(domain.PaymentStatusFailed),
				"updated_at":     tr.At,
			}).Error; err != nil {
			return err
		}

		return r.events.append(ctx, tx, tr.Event)
	})
	if err != nil {
		return false, translate(err)
	}
	return won, nil
}

func (r *orderRepository) MarkSliceRefunded(ctx context.Context, tr domain.Transition) (bool, error) {
	if tr.Slice != domain.SliceFull {
		return false, domain.ErrRefundNotFull
	}
	won := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PaymentSliceModel{}).
			Where("order_id = ? AND slice_type = ? AND intent_id = ? AND status IN ?",
				tr.OrderID, string(tr.Slice), tr.IntentID, statusStrings(domain.SourceStatuses(tr.Slice, domain.SliceStatusRefunded))).
			Updates(map[string]any{
				"status":     string(domain.SliceStatusRefunded),
				"updated_at": tr.At,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true

		if err := applyOrderEffect(tx, tr.OrderID, domain.RefundEffect(), tr.At); err != nil {
			return err
		}
		return r.events.append(ctx, tx, tr.Event)
	})
	if err != nil {
		return false, translate(err)
	}
	return won, nil
}

// =============================================================================
// Привязка намерений и флаг письма
// =============================================================================

func (r *orderRepository) AttachIntent(ctx context.Context, orderID int64, t domain.SliceType, intentID string, amount decimal.Decimal) error {
	if t != domain.SliceFull && t != domain.SliceDeposit && t != domain.SliceBalance {
		return domain.ErrUnknownSliceType
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Slices").
			Where("id = ?", orderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		order := model.toDomain()
		existing, exists := order.Slice(t)
		if existing.Paid() {
			return domain.ErrSliceAlreadyPaid
		}

		order.SetSlice(&domain.PaymentSlice{Type: t, IntentID: intentID, Status: domain.SliceStatusPending, Amount: amount})
		if err := order.ValidateSlices(); err != nil {
			return err
		}

		if !exists {
			return tx.Create(sliceModelFromDomain(orderID, order.Slices[t])).Error
		}

		result := tx.Model(&PaymentSliceModel{}).
			Where("order_id = ? AND slice_type = ? AND status <> ?", orderID, string(t), string(domain.SliceStatusPaid)).
			Updates(map[string]any{
				"intent_id":      intentID,
				"amount":         amount,
				"status":         string(domain.SliceStatusPending),
				"failure_reason": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrSliceAlreadyPaid
		}
		return nil
	})
	return translate(err)
}

func (r *orderRepository) UpdatePaymentStrategy(ctx context.Context, orderID int64, s domain.PaymentStrategy, at time.Time) (*domain.Order, error) {
	var order *domain.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Slices").
			Where("id = ?", orderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		order = model.toDomain()
		if err := order.ApplyStrategy(s, at); err != nil {
			return err
		}

		if err := tx.Model(&OrderModel{}).Where("id = ?", orderID).
			Updates(map[string]any{
				"payment_mode":     string(order.PaymentMode),
				"deposit_amount":   order.DepositAmount,
				"remaining_amount": order.RemainingAmount,
				"updated_at":       at,
			}).Error; err != nil {
			return err
		}

		// Оплаченных срезов здесь нет, ApplyStrategy их не допускает.
		return tx.Where("order_id = ? AND status <> ?", orderID, string(domain.SliceStatusPaid)).
			Delete(&PaymentSliceModel{}).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return order, nil
}

func (r *orderRepository) ClaimConfirmationEmail(ctx context.Context, orderID int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND confirmation_email_sent = ?", orderID, false).
		Update("confirmation_email_sent", true)
	if result.Error != nil {
		return false, domain.Persistence(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepository) ReleaseConfirmationEmail(ctx context.Context, orderID int64) error {
	if err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", orderID).
		Update("confirmation_email_sent", false).Error; err != nil {
		return domain.Persistence(err)
	}
	return nil
}

// =============================================================================
// Вспомогательные функции транзакций
// =============================================================================

// requireDepositPaid блокирует строку депозита до конца транзакции и проверяет её статус.
func requireDepositPaid(tx *gorm.DB, orderID int64) error {
	var deposit PaymentSliceModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND slice_type = ?", orderID, string(domain.SliceDeposit)).
		First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrBalanceBeforeDeposit
	}
	if err != nil {
		return err
	}
	if deposit.Status != string(domain.SliceStatusPaid) {
		return domain.ErrBalanceBeforeDeposit
	}
	return nil
}

// requireCompatibleSlice загружает срезы заказа под блокировкой и проверяет,
// что новый срез не нарушит несовместимость full с deposit и balance.
func requireCompatibleSlice(tx *gorm.DB, order *domain.Order, tr domain.Transition) error {
	var existing []PaymentSliceModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", tr.OrderID).
		Find(&existing).Error; err != nil {
		return err
	}
	for i := range existing {
		order.SetSlice(existing[i].toDomain())
	}
	order.SetSlice(&domain.PaymentSlice{Type: tr.Slice, IntentID: tr.IntentID})
	return order.ValidateSlices()
}

func applyOrderEffect(tx *gorm.DB, orderID int64, e domain.OrderEffect, at time.Time) error {
	updates := map[string]any{"updated_at": at}
	if e.PaymentStatus != "" {
		updates["payment_status"] = string(e.PaymentStatus)
	}
	if e.Status != "" {
		updates["status"] = string(e.Status)
	}
	if e.Confirm {
		updates["confirmed_at"] = gorm.Expr("COALESCE(confirmed_at, ?)", at)
	}
	if e.ZeroRemaining {
		updates["remaining_amount"] = decimal.Zero
	}
	return tx.Model(&OrderModel{}).Where("id = ?", orderID).Updates(updates).Error
}

func createPlan(tx *gorm.DB, order *domain.Order, tr domain.Transition) error {
	plan := domain.BuildInstallments(order, tr.IntentID, *tr.Plan, tr.At)
	models := make([]*InstallmentModel, len(plan))
	for i, inst := range plan {
		models[i] = installmentModelFromDomain(inst)
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models).Error
}

func statusStrings(statuses []domain.SliceStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
