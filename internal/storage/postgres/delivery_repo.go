package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/mayu/internal/notification"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DeliveryRepository persists the welcome history. Shared by the PostgreSQL
// and SQLite backends.
type DeliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository creates a DeliveryRepository.
func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// RecordDelivery inserts one delivery attempt.
func (r *DeliveryRepository) RecordDelivery(ctx context.Context, d *notification.Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	model := toDeliveryModel(d)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("recording welcome delivery: %w", err)
	}
	d.ID = model.ID
	return nil
}

// ListDeliveries returns the most recent deliveries, newest first.
// A non-positive limit selects the default page size.
func (r *DeliveryRepository) ListDeliveries(ctx context.Context, limit int) ([]notification.Delivery, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var models []WelcomeDeliveryModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing welcome deliveries: %w", err)
	}
	out := make([]notification.Delivery, len(models))
	for i := range models {
		out[i] = toDeliveryDomain(&models[i])
	}
	return out, nil
}

// PruneDeliveries deletes deliveries created before cutoff and returns the count removed.
func (r *DeliveryRepository) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Scopes(CreatedBefore(cutoff)).
		Delete(&WelcomeDeliveryModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning welcome deliveries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
