package audit

import (
	"context"

	"gorm.io/gorm"
)

// GormRepo persists audit events in Postgres through gorm. It only ever inserts.
type GormRepo struct {
	db *gorm.DB
}

// NewGormRepo returns a repository and creates the audit_events table when missing.
func NewGormRepo(ctx context.Context, db *gorm.DB) (*GormRepo, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Event{}); err != nil {
		return nil, err
	}
	return &GormRepo{db: db}, nil
}

func (r *GormRepo) Append(ctx context.Context, e Event) error {
	return r.db.WithContext(ctx).Create(&e).Error
}

func (r *GormRepo) ListByRequest(ctx context.Context, requestID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Event
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
