package auction

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Auction 是單一拍賣的 actor：擁有生命週期狀態、出價歷史，
// 並負責觸發定時器、事件通知與結算。
// 所有狀態欄位只會被 mailbox goroutine 讀寫（見 actor.go），
// 因此內部不需要任何鎖。
type Auction struct {
	id string

	title       string
	startingBid int64
	closeAt     time.Time
	ownerID     string

	bids    []Bid
	lastBid *Bid

	state State
	bound BoundState

	winnerID     string
	settlementID string

	deps        Dependencies
	cancelTimer func()
	logger      *slog.Logger

	mailbox *mailbox
}

// Dependencies 是拍賣 actor 的外部協作者，
// 由 Registry 在建立時注入（取代框架層級的相依注入）。
type Dependencies struct {
	Audit      AuditSink
	Events     Publisher
	Scheduler  Scheduler
	Settlement SettlementBackend
	Vault      SnapshotWriter
	Logger     *slog.Logger
}

func newAuction(id string, deps Dependencies) *Auction {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = nopAudit{}
	}

	a := &Auction{
		id:     id,
		state:  StateInit,
		bound:  Unbound,
		deps:   deps,
		logger: deps.Logger.With(slog.String("caller", "Auction"), slog.String("auctionID", id)),
	}
	a.mailbox = newMailbox()
	return a
}

// snapshot 建立目前狀態的公開投影，出價序列為複本
func (a *Auction) snapshot() Snapshot {
	bids := make([]Bid, len(a.bids))
	copy(bids, a.bids)

	var last *Bid
	if a.lastBid != nil {
		b := *a.lastBid
		last = &b
	}

	return Snapshot{
		ID:           a.id,
		Title:        a.title,
		StartingBid:  a.startingBid,
		CloseAt:      a.closeAt,
		OwnerID:      a.ownerID,
		Bids:         bids,
		LastBid:      last,
		State:        a.state,
		WinnerID:     a.winnerID,
		SettlementID: a.settlementID,
	}
}

// create 填充建立資料並保留結算ID，生命週期狀態維持在 INIT
func (a *Auction) create(title string, startingBid int64, ownerID string, closeDelay time.Duration) error {
	const op = "Auction.create"
	if title == "" {
		return fmt.Errorf("[%s] title cannot be empty, err=%w", op, ErrInvalidArgument)
	}
	if startingBid < 0 {
		return fmt.Errorf("[%s] starting bid cannot be negative, err=%w", op, ErrInvalidArgument)
	}

	a.title = title
	a.startingBid = startingBid
	a.ownerID = ownerID
	a.closeAt = time.Now().Add(closeDelay)
	a.settlementID = uuid.NewString()
	a.bound = Bound

	a.deps.Audit.AuctionCreate(a.snapshot())
	a.persist()
	return nil
}

// open 轉移到 OPEN 並啟動結束定時器
func (a *Auction) open() error {
	const op = "Auction.open"
	if a.bound == Unbound {
		return fmt.Errorf("[%s] can't open auction %s in bound state %s, err=%w", op, a.id, a.bound, ErrIllegalState)
	}
	if a.state != StateInit {
		return fmt.Errorf("[%s] can't open auction %s from state %s, err=%w", op, a.id, a.state, ErrIllegalState)
	}

	a.deps.Audit.AuctionToOpen(a.snapshot())
	a.state = StateOpen
	a.startCloseTimer()
	a.persist()
	return nil
}

func (a *Auction) startCloseTimer() {
	if a.deps.Scheduler == nil {
		return
	}
	a.cancelTimer = a.deps.Scheduler.ScheduleAt(a.closeAt, a.onCloseTimer)
	a.logger.Debug("close timer armed", slog.Time("closeAt", a.closeAt))
}

// bid 處理一次出價嘗試。
// 接受與否是正常的布林結果，不是錯誤；只有生命週期違規會回傳錯誤。
func (a *Auction) bid(userID string, amount int64) (bool, error) {
	const op = "Auction.bid"
	if a.bound == Unbound {
		return false, fmt.Errorf("[%s] auction %s is not bound, err=%w", op, a.id, ErrIllegalState)
	}
	// 出價嘗試一律進稽核，包含隨後因狀態不合而失敗的嘗試
	next := Bid{AuctionID: a.id, UserID: userID, Amount: amount}
	a.deps.Audit.AuctionBid(a.snapshot(), next)

	if a.state != StateOpen {
		return false, fmt.Errorf("[%s] auction %s cannot be bid in state %s, err=%w", op, a.id, a.state, ErrIllegalState)
	}

	// 接受條件：第一筆出價，或嚴格高於目前最高出價（同額視為拒絕）。
	// 第一筆出價不與起標價比較，維持參考實作的行為。
	if a.lastBid != nil && amount <= a.lastBid.Amount {
		a.deps.Audit.AuctionBidReject(next)
		return false, nil
	}

	a.bids = append(a.bids, next)
	a.lastBid = &a.bids[len(a.bids)-1]

	a.deps.Audit.AuctionBidAccept(next)
	a.publish(EventBid)
	a.persist()
	return true, nil
}

// closeOnTimer 是定時器到期的進入點：
// 若拍賣已不在 OPEN（先被手動結束或回滾），定時器成為無害的 no-op。
func (a *Auction) closeOnTimer() error {
	if a.state != StateOpen {
		return nil
	}
	return a.close()
}

// close 轉移到 CLOSED，發布 onClose，並在有得標出價時派送結算。
// 狀態轉移與結算派送之間沒有交易保護：若派送失敗或程序在中間中斷，
// 拍賣會停留在 CLOSED 而沒有結算紀錄，需要外部介入（已知缺口）。
func (a *Auction) close() error {
	const op = "Auction.close"
	if a.bound == Unbound {
		return fmt.Errorf("[%s] auction %s is not bound, err=%w", op, a.id, ErrIllegalState)
	}
	if a.state != StateOpen {
		return fmt.Errorf("[%s] can't close auction %s from state %s, err=%w", op, a.id, a.state, ErrIllegalState)
	}

	a.deps.Audit.AuctionToClose(a.snapshot())
	a.state = StateClosed
	a.publish(EventClose)
	a.persist()

	if err := a.settle(); err != nil {
		return fmt.Errorf("[%s] Fail to dispatch settlement for auction %s, err=%w", op, a.id, err)
	}
	return nil
}

// settle 以建立時保留的結算ID派送結算工作。
// 沒有任何出價時直接略過：零出價的拍賣沒有東西可結算。
func (a *Auction) settle() error {
	if a.lastBid == nil || a.deps.Settlement == nil {
		return nil
	}

	winning := *a.lastBid
	a.deps.Audit.SettlementWillSettle(a.settlementID, a.snapshot(), winning)
	return a.deps.Settlement.Settle(a.settlementID, winning)
}

// setSettled 由結算協調器在確定結果後呼叫
func (a *Auction) setSettled() error {
	const op = "Auction.setSettled"
	if a.state != StateClosed {
		return fmt.Errorf("[%s] can't settle auction %s from state %s, err=%w", op, a.id, a.state, ErrIllegalState)
	}

	a.state = StateSettled
	if a.lastBid != nil {
		a.winnerID = a.lastBid.UserID
	}
	a.publish(EventSettled)
	a.persist()
	return nil
}

// setRolledBack 無條件轉移到 ROLLED_BACK。
// 刻意沒有狀態前置條件：回滾可能在 CLOSED（付款失敗）
// 或 SETTLED（退款）時從閘道回呼進來。
func (a *Auction) setRolledBack() error {
	a.state = StateRolledBack
	a.publish(EventRolledBack)
	a.persist()
	return nil
}

// setWinner 是管理者對得標者的覆寫，獨立於出價歷史。
// 沿用參考實作的行為：透過 onSettled 通知而非獨立的事件種類。
func (a *Auction) setWinner(userID string) error {
	const op = "Auction.setWinner"
	if a.bound != Bound {
		return fmt.Errorf("[%s] auction %s is not bound, err=%w", op, a.id, ErrIllegalState)
	}

	a.winnerID = userID
	a.publish(EventSettled)
	a.persist()
	return nil
}

func (a *Auction) clearWinner() error {
	const op = "Auction.clearWinner"
	if a.bound != Bound {
		return fmt.Errorf("[%s] auction %s is not bound, err=%w", op, a.id, ErrIllegalState)
	}

	a.winnerID = ""
	a.persist()
	return nil
}

// refund 委派給結算後端的退款操作。
// 不直接改變拍賣狀態：狀態轉移由後端的回呼路徑（setRolledBack）負責。
func (a *Auction) refund() (bool, error) {
	const op = "Auction.refund"
	if a.state != StateSettled {
		return false, fmt.Errorf("[%s] can't refund auction %s from state %s, err=%w", op, a.id, a.state, ErrIllegalState)
	}
	if a.deps.Settlement == nil {
		return false, fmt.Errorf("[%s] no settlement backend bound to auction %s, err=%w", op, a.id, ErrIllegalState)
	}

	a.deps.Audit.SettlementRefund(a.settlementID)
	status, err := a.deps.Settlement.Refund(a.settlementID)
	if err != nil {
		return false, fmt.Errorf("[%s] Fail to refund settlement %s, err=%w", op, a.settlementID, err)
	}
	return status == SettlementRolledBack, nil
}

// publish 發布事件通知，失敗只記錄，不影響拍賣操作
func (a *Auction) publish(kind EventKind) {
	if a.deps.Events == nil {
		return
	}
	if err := a.deps.Events.Publish(a.id, Event{Kind: kind, Auction: a.snapshot()}); err != nil {
		a.logger.Warn("Fail to publish auction event", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// persist 將目前快照交給 vault 層，fire-and-forget
func (a *Auction) persist() {
	if a.deps.Vault == nil {
		return
	}
	a.deps.Vault.Write(a.snapshot())
}

// nopAudit 是 AuditSink 的空實作，未注入稽核服務時使用
type nopAudit struct{}

func (nopAudit) AuctionCreate(Snapshot)                               {}
func (nopAudit) AuctionToOpen(Snapshot)                               {}
func (nopAudit) AuctionToClose(Snapshot)                              {}
func (nopAudit) AuctionBid(Snapshot, Bid)                             {}
func (nopAudit) AuctionBidAccept(Bid)                                 {}
func (nopAudit) AuctionBidReject(Bid)                                 {}
func (nopAudit) SettlementWillSettle(string, Snapshot, Bid)           {}
func (nopAudit) SettlementCompleted(string, string, SettlementStatus) {}
func (nopAudit) SettlementRefund(string)                              {}
