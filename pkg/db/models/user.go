package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a person associated with a shop who receives billing email.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ShopID    uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	FirstName string    `gorm:"column:first_name;not null;default:''"`
	LastName  string    `gorm:"column:last_name;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

// DisplayName falls back to the email when no name is on file.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}
