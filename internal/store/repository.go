package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository is a data-access object for one model type.
type Repository[T any] struct {
	db *gorm.DB
}

// NewRepository creates a repository for T on db.
func NewRepository[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

// Create inserts v and fills its generated fields.
func (r *Repository[T]) Create(ctx context.Context, v *T) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("failed to create %T: %w", v, translate(err))
	}
	return nil
}

// Get loads the row with primary key id.
func (r *Repository[T]) Get(ctx context.Context, id uint) (*T, error) {
	var v T
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// First loads the first row matching query, ordered by primary key.
func (r *Repository[T]) First(ctx context.Context, query interface{}, args ...interface{}) (*T, error) {
	var v T
	if err := r.db.WithContext(ctx).Where(query, args...).First(&v).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// Find loads every row matching query. A nil query loads all rows.
func (r *Repository[T]) Find(ctx context.Context, query interface{}, args ...interface{}) ([]T, error) {
	var out []T
	tx := r.db.WithContext(ctx)
	if query != nil {
		tx = tx.Where(query, args...)
	}
	if err := tx.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list: %w", translate(err))
	}
	return out, nil
}

// Delete removes rows matching query and returns how many went.
func (r *Repository[T]) Delete(ctx context.Context, query interface{}, args ...interface{}) (int64, error) {
	res := r.db.WithContext(ctx).Where(query, args...).Delete(new(T))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete: %w", translate(res.Error))
	}
	return res.RowsAffected, nil
}
