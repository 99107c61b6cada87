package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"gavel/auction"
)

// RegisterRoutes 掛載所有拍賣相關的路由
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.POST("/auction/items", impl.CreateAuctionItem)
	router.GET("/auction/items", impl.ListAuctionItems)
	router.GET("/auction/items/:itemID", impl.GetAuctionItem)
	router.POST("/auction/items/:itemID/bids", impl.PlaceBid)
	router.POST("/auction/items/:itemID/close", impl.CloseAuctionItem)
	router.PUT("/auction/items/:itemID/winner", impl.SetAuctionWinner)
	router.DELETE("/auction/items/:itemID/winner", impl.ClearAuctionWinner)
	router.POST("/auction/items/:itemID/refund", impl.RefundAuctionItem)
	router.GET("/auction/items/:itemID/events", impl.StreamAuctionEvents)
}

// statusOf 將核心錯誤分類映射到HTTP狀態碼
func statusOf(err error) int {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrIllegalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// userID 取得呼叫者的使用者識別。
// 身分驗證由外部的session層負責，這裡只要求已解析好的識別字串。
func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	return id, id != ""
}

type createAuctionRequest struct {
	Title       string `json:"title" binding:"required"`
	StartingBid int64  `json:"startingBid"`
}

// Add a new auction item and start accepting bids
// (POST /auction/items)
func (impl *ServerImpl) CreateAuctionItem(c *gin.Context) {
	const op = "CreateAuctionItem"

	owner, ok := userID(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}

	var request createAuctionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": lo.ToPtr(err.Error())})
		return
	}

	a, err := impl.registry.Create(c.Request.Context(), request.Title, request.StartingBid, owner)
	if err != nil {
		slog.Error("Fail to create auction", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}
	// 建立後立即開放出價，與建立拍賣的使用者流程一致
	if err := a.Open(c.Request.Context()); err != nil {
		slog.Error("Fail to open auction", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}

	c.Header("Location", a.ID())
	c.Status(http.StatusCreated)
}

// List auction item ids, optionally filtered by title
// (GET /auction/items)
func (impl *ServerImpl) ListAuctionItems(c *gin.Context) {
	const op = "ListAuctionItems"

	ids, err := impl.registry.FindIDsByTitle(c.Request.Context(), c.Query("title"))
	if err != nil {
		slog.Error("Fail to list auctions", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(ids),
		"items": ids,
	})
}

// Get auction item details
// (GET /auction/items/{itemID})
func (impl *ServerImpl) GetAuctionItem(c *gin.Context) {
	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	snap, err := a.Get(c.Request.Context())
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	c.JSON(http.StatusOK, snap)
}

type placeBidRequest struct {
	Bid int64 `json:"bid" binding:"required"`
}

// Place a bid on an auction item
// (POST /auction/items/{itemID}/bids)
func (impl *ServerImpl) PlaceBid(c *gin.Context) {
	const op = "PlaceBid"

	bidder, ok := userID(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}

	var request placeBidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": lo.ToPtr(err.Error())})
		return
	}

	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}

	accepted, err := a.Bid(c.Request.Context(), bidder, request.Bid)
	if err != nil {
		slog.Error("Fail to place bid", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}
	if accepted {
		slog.Info("Higher bid occurs", slog.String("user", bidder), slog.Int64("bid", request.Bid), slog.String("auctionID", a.ID()))
	}
	// 拒絕是正常結果，不是錯誤
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// Close an auction item before its timer fires
// (POST /auction/items/{itemID}/close)
func (impl *ServerImpl) CloseAuctionItem(c *gin.Context) {
	const op = "CloseAuctionItem"

	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	if err := a.Close(c.Request.Context()); err != nil {
		slog.Error("Fail to close auction", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}
	c.Status(http.StatusOK)
}

type setWinnerRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// Administrative override of the recorded winner
// (PUT /auction/items/{itemID}/winner)
func (impl *ServerImpl) SetAuctionWinner(c *gin.Context) {
	const op = "SetAuctionWinner"

	var request setWinnerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": lo.ToPtr(err.Error())})
		return
	}

	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	if err := a.SetWinner(c.Request.Context(), request.UserID); err != nil {
		slog.Error("Fail to set winner", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}
	c.Status(http.StatusOK)
}

// Clear the recorded winner
// (DELETE /auction/items/{itemID}/winner)
func (impl *ServerImpl) ClearAuctionWinner(c *gin.Context) {
	const op = "ClearAuctionWinner"

	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	if err := a.ClearWinner(c.Request.Context()); err != nil {
		slog.Error("Fail to clear winner", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}
	c.Status(http.StatusOK)
}

// Refund a settled auction
// (POST /auction/items/{itemID}/refund)
func (impl *ServerImpl) RefundAuctionItem(c *gin.Context) {
	const op = "RefundAuctionItem"

	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	rolledBack, err := a.Refund(c.Request.Context())
	if err != nil {
		slog.Error("Fail to refund auction", slog.String("op", op), slog.Any("error", err))
		c.JSON(statusOf(err), gin.H{"message": lo.ToPtr(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolledBack": rolledBack})
}

// Track auction item lifecycle events
// (GET /auction/items/{itemID}/events)
func (impl *ServerImpl) StreamAuctionEvents(c *gin.Context) {
	const op = "StreamAuctionEvents"

	// 檢查拍賣是否存在
	a, err := impl.registry.Lookup(c.Param("itemID"))
	if err != nil {
		c.Status(statusOf(err))
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")

	ch, err := impl.hub.Subscribe(a.ID())
	if err != nil {
		slog.Error("Fail to subscribe to auction events", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer impl.hub.Unsubscribe(a.ID(), ch)

	for {
		select {
		case <-w.CloseNotify():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(event.Kind), event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和反向代理不會斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}
