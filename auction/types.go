package auction

import "time"

// State 表示拍賣的生命週期狀態。
// 狀態轉移只能沿著 INIT → OPEN → CLOSED → {SETTLED | ROLLED_BACK} 前進。
type State string

const (
	StateInit       State = "INIT"
	StateOpen       State = "OPEN"
	StateClosed     State = "CLOSED"
	StateSettled    State = "SETTLED"
	StateRolledBack State = "ROLLED_BACK"
)

// BoundState 表示拍賣實體是否已被建立資料填充。
// 對 UNBOUND 實體的操作會直接失敗。
type BoundState string

const (
	Unbound BoundState = "UNBOUND"
	Bound   BoundState = "BOUND"
)

// SettlementStatus 表示結算後端回報的最終結果
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "PENDING"
	SettlementSettled    SettlementStatus = "SETTLED"
	SettlementRolledBack SettlementStatus = "ROLLED_BACK"
)

// Bid 代表一筆已被接受的出價，建立後不可變更
type Bid struct {
	AuctionID string `json:"auctionId" msgpack:"auction_id"`
	UserID    string `json:"userId" msgpack:"user_id"`
	Amount    int64  `json:"amount" msgpack:"amount"`
}

// Snapshot 是拍賣的公開唯讀投影，
// 任何狀態下都可以取得，事件通知也會攜帶當下的 Snapshot。
type Snapshot struct {
	ID           string    `json:"id" msgpack:"id"`
	Title        string    `json:"title" msgpack:"title"`
	StartingBid  int64     `json:"startingBid" msgpack:"starting_bid"`
	CloseAt      time.Time `json:"closeAt" msgpack:"close_at"`
	OwnerID      string    `json:"ownerId" msgpack:"owner_id"`
	Bids         []Bid     `json:"bids" msgpack:"bids"`
	LastBid      *Bid      `json:"lastBid,omitempty" msgpack:"last_bid"`
	State        State     `json:"state" msgpack:"state"`
	WinnerID     string    `json:"winnerId,omitempty" msgpack:"winner_id"`
	SettlementID string    `json:"settlementId" msgpack:"settlement_id"`
}

// LastBidder 回傳最後一筆有效出價的使用者，沒有出價時回傳空字串
func (s Snapshot) LastBidder() string {
	if s.LastBid == nil {
		return ""
	}
	return s.LastBid.UserID
}

// EventKind 表示事件通知的種類
type EventKind string

const (
	EventBid        EventKind = "bid"
	EventClose      EventKind = "close"
	EventSettled    EventKind = "settled"
	EventRolledBack EventKind = "rolled_back"
)

// Event 是發布到拍賣事件頻道的通知，
// 攜帶轉移當下完整的公開快照。
type Event struct {
	Kind    EventKind `json:"kind" msgpack:"kind"`
	Auction Snapshot  `json:"auction" msgpack:"auction"`
}
