package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// PaymentLinkModel - GORM модель таблицы payment_links.
type PaymentLinkModel struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Token          string          `gorm:"column:token;type:char(64);not null;uniqueIndex"`
	OrderID        int64           `gorm:"column:order_id;not null;index"`
	PaymentType    string          `gorm:"column:payment_type;type:varchar(20);not null"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	Status         string          `gorm:"column:status;type:varchar(20);not null;index"`
	ExpiresAt      time.Time       `gorm:"column:expires_at;not null;index"`
	AccessCount    int             `gorm:"column:access_count;not null;default:0"`
	LastAccessedAt *time.Time      `gorm:"column:last_accessed_at"`
	PaidAt         *time.Time      `gorm:"column:paid_at"`
	CreatedBy      string          `gorm:"column:created_by;type:varchar(100)"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentLinkModel) TableName() string { return "payment_links" }

func (m *PaymentLinkModel) toDomain() *domain.PaymentLink {
	return &domain.PaymentLink{
		ID:             m.ID,
		Token:          m.Token,
		OrderID:        m.OrderID,
		PaymentType:    domain.SliceType(m.PaymentType),
		Amount:         m.Amount,
		Status:         domain.LinkStatus(m.Status),
		ExpiresAt:      m.ExpiresAt,
		AccessCount:    m.AccessCount,
		LastAccessedAt: m.LastAccessedAt,
		PaidAt:         m.PaidAt,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
	}
}

// PaymentLinkRepository - хранилище ссылок на оплату.
type PaymentLinkRepository interface {
	Create(ctx context.Context, link *domain.PaymentLink) error
	GetByToken(ctx context.Context, token string) (*domain.PaymentLink, error)
	// ListByOrder возвращает ссылки заказа, новые первыми.
	ListByOrder(ctx context.Context, orderID int64) ([]*domain.PaymentLink, error)
	RecordAccess(ctx context.Context, token string, at time.Time) error
	// MarkUsed переводит активную ссылку в used. false - ссылка уже не активна.
	MarkUsed(ctx context.Context, token string, at time.Time) (bool, error)
	Revoke(ctx context.Context, token string) error
	// RevokeByOrder отзывает все активные ссылки заказа.
	RevokeByOrder(ctx context.Context, orderID int64) (int64, error)
	// DeleteExpired удаляет неиспользованные ссылки, истёкшие до before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type paymentLinkRepository struct {
	db *gorm.DB
}

// NewPaymentLinkRepository создаёт репозиторий ссылок на оплату.
func NewPaymentLinkRepository(db *gorm.DB) PaymentLinkRepository {
	return &paymentLinkRepository{db: db}
}

func (r *paymentLinkRepository) Create(ctx context.Context, link *domain.PaymentLink) error {
	model := &PaymentLinkModel{
		Token:       link.Token,
		OrderID:     link.OrderID,
		PaymentType: string(link.PaymentType),
		Amount:      link.Amount,
		Status:      string(link.Status),
		ExpiresAt:   link.ExpiresAt,
		CreatedBy:   link.CreatedBy,
	}
	if model.Status == "" {
		model.Status = string(domain.LinkStatusActive)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domain.Persistence(err)
	}

	link.ID = model.ID
	link.Status = domain.LinkStatus(model.Status)
	link.CreatedAt = model.CreatedAt
	return nil
}

func (r *paymentLinkRepository) GetByToken(ctx context.Context, token string) (*domain.PaymentLink, error) {
	var model PaymentLinkModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentLinkNotFound
		}
		return nil, domain.Persistence(err)
	}
	return model.toDomain(), nil
}

func (r *paymentLinkRepository) ListByOrder(ctx context.Context, orderID int64) ([]*domain.PaymentLink, error) {
	var models []PaymentLinkModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		Find(&models).Error; err != nil {
		return nil, domain.Persistence(err)
	}

	links := make([]*domain.PaymentLink, len(models))
	for i := range models {
		links[i] = models[i].toDomain()
	}
	return links, nil
}

func (r *paymentLinkRepository) RecordAccess(ctx context.Context, token string, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&PaymentLinkModel{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + ?", 1),
			"last_accessed_at": at,
		}).Error; err != nil {
		return domain.Persistence(err)
	}
	return nil
}

func (r *paymentLinkRepository) MarkUsed(ctx context.Context, token string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&PaymentLinkModel{}).
		Where("token = ? AND status = ?", token, string(domain.LinkStatusActive)).
		Updates(map[string]any{
			"status":  string(domain.LinkStatusUsed),
			"paid_at": at,
		})
	if result.Error != nil {
		return false, domain.Persistence(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentLinkRepository) Revoke(ctx context.Context, token string) error {
	result := r.db.WithContext(ctx).Model(&PaymentLinkModel{}).
		Where("token = ? AND status = ?", token, string(domain.LinkStatusActive)).
		Update("status", string(domain.LinkStatusRevoked))
	if result.Error != nil {
		return domain.Persistence(result.Error)
	}
	if result.RowsAffected == 0 {
		link, err := r.GetByToken(ctx, token)
		if err != nil {
			return err
		}
		return link.Usable(time.Now())
	}
	return nil
}

func (r *paymentLinkRepository) RevokeByOrder(ctx context.Context, orderID int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&PaymentLinkModel{}).
		Where("order_id = ? AND status = ?", orderID, string(domain.LinkStatusActive)).
		Update("status", string(domain.LinkStatusRevoked))
	if result.Error != nil {
		return 0, domain.Persistence(result.Error)
	}
	return result.RowsAffected, nil
}

func (r *paymentLinkRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ? AND status <> ?", before, string(domain.LinkStatusUsed)).
		Delete(&PaymentLinkModel{})
	if result.Error != nil {
		return 0, domain.Persistence(result.Error)
	}
	return result.RowsAffected, nil
}
