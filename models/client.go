package models

import "time"

type Client struct {
	ClientID  int       `json:"client_id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Phone     string    `json:"phone" gorm:"size:20"`
	Email     string    `json:"email" gorm:"size:100"`
	CreatedAt time.Time `json:"created_at"`
	Rents     []Rent    `json:"-" gorm:"foreignKey:ClientID;references:ClientID"`
}
