package models

import (
	"gorm.io/gorm"
)

// Bid 代表一筆已被接受的出價紀錄
// Seq 是該拍賣內的出價序號，只有被接受的出價才會被記錄
type Bid struct {
	gorm.Model

	AuctionID string `gorm:"type:varchar(32);uniqueIndex:idx_bid_auction_id_seq;not null;<-:create"`
	Seq       int    `gorm:"type:integer;uniqueIndex:idx_bid_auction_id_seq;not null;<-:create"`
	UserID    string `gorm:"type:varchar(64);not null;<-:create"`
	Amount    int64  `gorm:"type:bigint;not null;<-:create"`
}
