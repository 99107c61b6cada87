// Package audit 實作拍賣生命週期的稽核槽：append-only、
// fire-and-forget，任何失敗都在內部吸收，絕不影響呼叫端的操作。
package audit

import (
	"log/slog"

	"gavel/auction"
)

// LogSink 只把稽核事件寫進結構化日誌，
// 用於開發環境以及未設定 Redis 的部署。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 建立一個新的 LogSink。
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("caller", "Audit"))}
}

func (s *LogSink) AuctionCreate(a auction.Snapshot) {
	s.logger.Info("auction create", slog.String("auctionID", a.ID), slog.String("title", a.Title))
}

func (s *LogSink) AuctionToOpen(a auction.Snapshot) {
	s.logger.Info("auction open", slog.String("auctionID", a.ID))
}

func (s *LogSink) AuctionToClose(a auction.Snapshot) {
	s.logger.Info("auction close", slog.String("auctionID", a.ID))
}

func (s *LogSink) AuctionBid(a auction.Snapshot, bid auction.Bid) {
	s.logger.Info("auction bid", slog.String("auctionID", a.ID), slog.String("userID", bid.UserID), slog.Int64("amount", bid.Amount))
}

func (s *LogSink) AuctionBidAccept(bid auction.Bid) {
	s.logger.Info("bid accepted", slog.String("auctionID", bid.AuctionID), slog.String("userID", bid.UserID), slog.Int64("amount", bid.Amount))
}

func (s *LogSink) AuctionBidReject(bid auction.Bid) {
	s.logger.Info("bid rejected", slog.String("auctionID", bid.AuctionID), slog.String("userID", bid.UserID), slog.Int64("amount", bid.Amount))
}

func (s *LogSink) SettlementWillSettle(settlementID string, a auction.Snapshot, bid auction.Bid) {
	s.logger.Info("auction will settle", slog.String("settlementID", settlementID), slog.String("auctionID", a.ID), slog.String("userID", bid.UserID), slog.Int64("amount", bid.Amount))
}

func (s *LogSink) SettlementCompleted(settlementID, auctionID string, status auction.SettlementStatus) {
	s.logger.Info("settlement completed", slog.String("settlementID", settlementID), slog.String("auctionID", auctionID), slog.String("status", string(status)))
}

func (s *LogSink) SettlementRefund(settlementID string) {
	s.logger.Info("refund requested", slog.String("settlementID", settlementID))
}
