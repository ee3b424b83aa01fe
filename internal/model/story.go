package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLanguage  = "zh"
	DefaultMinLength = 150
	DefaultMaxLength = 500
)

// Story is the root container of a fork tree. Its length bounds apply to
// every branch beneath it.
type Story struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Background string    `json:"background" db:"background"`
	Language   string    `json:"language" db:"language"`
	MinLength  int       `json:"minLength" db:"min_length"`
	MaxLength  int       `json:"maxLength" db:"max_length"`
	OwnerID    uuid.UUID `json:"ownerId" db:"owner_id"`
	OwnerType  string    `json:"ownerType" db:"owner_type"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
