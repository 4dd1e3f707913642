package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// AdminNotificationModel - GORM модель таблицы admin_notifications.
type AdminNotificationModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Type           string    `gorm:"column:type;type:varchar(50);not null;index"`
	Message        string    `gorm:"column:message;type:text;not null"`
	RelatedOrderID *int64    `gorm:"column:related_order_id;index"`
	IsRead         bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AdminNotificationModel) TableName() string { return "admin_notifications" }

// NotificationRepository пишет уведомления для администратора.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.AdminNotification) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository создаёт репозиторий уведомлений.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.AdminNotification) error {
	model := &AdminNotificationModel{
		Type:    n.Type,
		Message: n.Message,
	}
	if n.RelatedOrderID > 0 {
		id := n.RelatedOrderID
		model.RelatedOrderID = &id
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domain.Persistence(err)
	}

	n.ID = model.ID
	n.CreatedAt = model.CreatedAt
	return nil
}

// CartRepository очищает корзину покупателя после оплаты.
type CartRepository interface {
	ClearByCustomer(ctx context.Context, customerID int64) (int64, error)
}

type cartRepository struct {
	db *gorm.DB
}

// NewCartRepository создаёт репозиторий корзины.
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

func (r *cartRepository) ClearByCustomer(ctx context.Context, customerID int64) (int64, error) {
	result := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Delete(&CartItemModel{})
	if result.Error != nil {
		return 0, domain.Persistence(result.Error)
	}
	return result.RowsAffected, nil
}

// CustomerRepository хранит ссылку на клиента у процессора.
type CustomerRepository interface {
	SetExternalRef(ctx context.Context, customerID int64, ref string) error
}

type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository создаёт репозиторий клиентов.
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// SetExternalRef сохраняет идентификатор клиента процессора, если он ещё не задан.
func (r *customerRepository) SetExternalRef(ctx context.Context, customerID int64, ref string) error {
	if err := r.db.WithContext(ctx).Model(&CustomerModel{}).
		Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", customerID).
		Update("stripe_customer_id", ref).Error; err != nil {
		return domain.Persistence(err)
	}
	return nil
}
