package postgres

import (
	"time"

	"github.com/google/uuid"
)

// WelcomeDeliveryModel maps to the "welcome_deliveries" table.
type WelcomeDeliveryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	GuildID   string    `gorm:"not null;index"`
	UserID    string    `gorm:"not null;index"`
	Username  string    `gorm:"not null;default:''"`
	AvatarURL string    `gorm:"not null;default:''"`
	Sender    string    `gorm:"not null"`
	Status    string    `gorm:"not null;index"`
	Error     string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (WelcomeDeliveryModel) TableName() string { return "welcome_deliveries" }
