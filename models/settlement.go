package models

import (
	"gorm.io/gorm"
)

// Settlement 代表一筆結算紀錄
// 結算ID在拍賣建立時即被保留，與拍賣一對一綁定；
// 只有在拍賣以得標出價結束時才會真正成為待處理的工作
type Settlement struct {
	gorm.Model

	ID        string `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID string `gorm:"type:varchar(32);not null;<-:create"`
	BidderID  string `gorm:"type:varchar(64);not null;<-:create"`
	Amount    int64  `gorm:"type:bigint;not null;<-:create"`
	SaleID    string `gorm:"type:uuid"`
	Outcome   string `gorm:"type:varchar(16);not null"`
}
