package postgres

import (
	"github.com/google/uuid"

	"github.com/jkaninda/mayu/internal/notification"
)

func toDeliveryModel(d *notification.Delivery) WelcomeDeliveryModel {
	id := d.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return WelcomeDeliveryModel{
		ID:        id,
		GuildID:   d.GuildID,
		UserID:    d.UserID,
		Username:  d.Username,
		AvatarURL: d.AvatarURL,
		Sender:    d.Sender,
		Status:    d.Status,
		Error:     d.Error,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func toDeliveryDomain(m *WelcomeDeliveryModel) notification.Delivery {
	return notification.Delivery{
		ID:        m.ID,
		GuildID:   m.GuildID,
		UserID:    m.UserID,
		Username:  m.Username,
		AvatarURL: m.AvatarURL,
		Sender:    m.Sender,
		Status:    m.Status,
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
	}
}
