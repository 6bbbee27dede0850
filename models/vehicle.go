package models

import "time"

// 車輛狀態
const (
	VehicleStatusAvailable   = "available"
	VehicleStatusRented      = "rented"
	VehicleStatusMaintenance = "maintenance"
)

// Vehicle 車隊中的車輛，以車牌為主鍵
type Vehicle struct {
	LicensePlate string    `gorm:"primaryKey;size:20;column:license_plate" json:"license_plate"`
	Brand        string    `gorm:"size:50;column:brand" json:"brand,omitempty"`
	Model        string    `gorm:"size:50;column:model" json:"model,omitempty"`
	Color        string    `gorm:"size:20;column:color" json:"color,omitempty"`
	Status       string    `gorm:"size:20;column:status;default:available" json:"status"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Vehicle) TableName() string {
	return "vehicle"
}
