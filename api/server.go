package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gavel/adapters/audit"
	"gavel/adapters/events"
	"gavel/adapters/scheduler"
	"gavel/adapters/settlement"
	"gavel/auction"
	"gavel/vault"
)

// closer 統一各 adapter 的關閉介面
type closer interface {
	Close()
}

type ServerImpl struct {
	registry  *auction.Registry
	hub       *events.Hub[auction.Event]
	scheduler *scheduler.Scheduler
	sink      auction.AuditSink
	vault     *vault.Vault
	gateway   *settlement.Gateway

	redisClient *redis.Client
	natsConn    *nats.Conn
	db          *gorm.DB

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	impl := &ServerImpl{config: config}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	impl.db = db

	// 初始化稽核槽：有Redis時寫入stream，否則退回結構化日誌
	if config.Redis.Addr != "" {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		streamSink, err := audit.NewStreamSink(impl.redisClient, config.Redis.StreamKeys.Audit)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create audit sink, err=%w", op, err)
		}
		impl.sink = streamSink
	} else {
		impl.sink = audit.NewLogSink(slog.Default())
	}

	// 初始化事件中樞，有NATS時啟用跨節點轉發
	hubOpts := []events.HubOption[auction.Event]{
		events.WithHubLogger[auction.Event](slog.Default()),
	}
	if config.NATS.URL != "" {
		conn, err := nats.Connect(config.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to nats, err=%w", op, err)
		}
		impl.natsConn = conn
		relay, err := events.NewNatsRelay[auction.Event](conn, config.NATS.Subject)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create event relay, err=%w", op, err)
		}
		hubOpts = append(hubOpts, events.WithHubRelay[auction.Event](relay))
	}
	impl.hub = events.NewHub[auction.Event](hubOpts...)

	// 初始化定時器服務
	impl.scheduler = scheduler.New()

	// 初始化vault
	v, err := vault.New(db)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create vault, err=%w", op, err)
	}
	if err := v.Migrate(); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate vault tables, err=%w", op, err)
	}
	impl.vault = v

	// 初始化結算閘道，結果透過回呼路由回對應的拍賣actor
	gateway, err := settlement.NewGateway(db, impl.completeSettlement, settlement.WithGatewayAudit(impl.sink))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create settlement gateway, err=%w", op, err)
	}
	impl.gateway = gateway

	// 初始化拍賣註冊表
	impl.registry = auction.NewRegistry(auction.RegistryConfig{
		CloseDelay: config.Auction.CloseDelay,
		Dependencies: auction.Dependencies{
			Audit:      impl.sink,
			Events:     impl.hub,
			Scheduler:  impl.scheduler,
			Settlement: impl.gateway,
			Vault:      impl.vault,
			Logger:     slog.Default(),
		},
	})

	return impl, nil
}

// completeSettlement 是結算閘道的回呼：
// 把最終結果轉成對應拍賣的 SetSettled / SetRolledBack 序列化操作。
func (impl *ServerImpl) completeSettlement(auctionID string, status auction.SettlementStatus) {
	logger := slog.Default().With(slog.String("caller", "completeSettlement"), slog.String("auctionID", auctionID))

	a, err := impl.registry.Lookup(auctionID)
	if err != nil {
		logger.Error("Fail to route settlement outcome", slog.Any("error", err))
		return
	}

	ctx := context.Background()
	switch status {
	case auction.SettlementSettled:
		err = a.SetSettled(ctx)
	case auction.SettlementRolledBack:
		err = a.SetRolledBack(ctx)
	default:
		logger.Warn("unexpected settlement status", slog.String("status", string(status)))
		return
	}
	if err != nil {
		logger.Error("Fail to apply settlement outcome", slog.String("status", string(status)), slog.Any("error", err))
	}
}

func (impl *ServerImpl) Start() {
	// 啟動稽核槽
	if sink, ok := impl.sink.(*audit.StreamSink); ok {
		sink.Start()
	}
	// 啟動事件中樞
	impl.hub.Start()
	// 啟動定時器服務
	impl.scheduler.Start()
	// 啟動vault worker
	impl.vault.Start()
	// 啟動結算閘道
	impl.gateway.Start()
}

func (impl *ServerImpl) Close() {
	// 關閉拍賣actor
	impl.registry.Close()
	// 關閉定時器服務
	impl.scheduler.Close()
	// 關閉結算閘道
	impl.gateway.Close()
	// 關閉事件中樞
	impl.hub.Done()
	// 關閉vault worker
	impl.vault.Close()
	// 關閉稽核槽
	if sink, ok := impl.sink.(closer); ok {
		sink.Close()
	}
	if impl.natsConn != nil {
		impl.natsConn.Close()
	}
	if impl.redisClient != nil {
		impl.redisClient.Close()
	}
}
