package db

import (
	"gorm.io/gorm"
)

// Repository implements persistence and the atomic counter operations of the dispatch engine.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps an opened database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying gorm handle for seeding and reporting.
func (r *Repository) DB() *gorm.DB {
	return r.db
}
