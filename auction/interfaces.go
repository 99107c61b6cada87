package auction

import "time"

// AuditSink 定義了稽核服務的介面。
// 所有方法都是 fire-and-forget：實作必須自行吸收錯誤，絕不能阻塞或影響呼叫端。
type AuditSink interface {
	// AuctionCreate 記錄拍賣建立
	AuctionCreate(a Snapshot)
	// AuctionToOpen 記錄拍賣開始
	AuctionToOpen(a Snapshot)
	// AuctionToClose 記錄拍賣結束
	AuctionToClose(a Snapshot)
	// AuctionBid 記錄一次出價嘗試（不論接受與否）
	AuctionBid(a Snapshot, bid Bid)
	// AuctionBidAccept 記錄出價被接受
	AuctionBidAccept(bid Bid)
	// AuctionBidReject 記錄出價被拒絕
	AuctionBidReject(bid Bid)
	// SettlementWillSettle 記錄拍賣即將以某筆出價進行結算
	SettlementWillSettle(settlementID string, a Snapshot, bid Bid)
	// SettlementCompleted 記錄結算後端回報的最終結果
	SettlementCompleted(settlementID, auctionID string, status SettlementStatus)
	// SettlementRefund 記錄退款請求
	SettlementRefund(settlementID string)
}

// Publisher 定義了拍賣事件頻道的發布介面。
// 發布失敗不能使拍賣操作失敗，呼叫端只記錄錯誤。
type Publisher interface {
	Publish(auctionID string, event Event) error
}

// Scheduler 定義了單次定時器服務的介面。
// 回呼會在指定時刻或之後被呼叫恰好一次，除非先被取消。
type Scheduler interface {
	ScheduleAt(at time.Time, fn func()) (cancel func())
}

// SettlementBackend 定義了結算後端的介面。
// Settle 只負責派送結算工作，最終結果由後端透過回呼
// （SetSettled / SetRolledBack）以另一個序列化操作回報。
type SettlementBackend interface {
	Settle(settlementID string, winning Bid) error
	Refund(settlementID string) (SettlementStatus, error)
}

// SnapshotWriter 定義了快照持久化的介面。
// 每次狀態變更後都會被呼叫，實作必須是 fire-and-forget。
type SnapshotWriter interface {
	Write(s Snapshot)
}
