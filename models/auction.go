package models

import (
	"time"

	"gorm.io/gorm"
)

// Auction 代表拍賣的持久化快照
// 每次狀態變更後由 vault 層寫入，包含生命週期狀態與得標者
type Auction struct {
	gorm.Model

	ID           string    `gorm:"type:varchar(32);primaryKey;<-:create"`
	Title        string    `gorm:"type:varchar(255);not null;<-:create"`
	StartingBid  int64     `gorm:"type:bigint;not null;<-:create"`
	OwnerID      string    `gorm:"type:varchar(64);not null;<-:create"`
	CloseAt      time.Time `gorm:"type:timestamp with time zone;not null"`
	State        string    `gorm:"type:varchar(16);not null"`
	WinnerID     string    `gorm:"type:varchar(64)"`
	SettlementID string    `gorm:"type:uuid;not null;<-:create"`

	// 外鍵關聯
	Bids []Bid `gorm:"foreignKey:AuctionID"`
}
