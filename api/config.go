package api

import "time"

type ServerConfig struct {
	DB      DBConfig
	Redis   RedisConfig
	NATS    NATSConfig
	Auction AuctionConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	// Addr 為空時稽核改寫入結構化日誌
	Addr     string
	Password string
	DB       int

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Audit string
}

type NATSConfig struct {
	// URL 為空時不啟用跨節點事件轉發
	URL     string
	Subject string
}

type AuctionConfig struct {
	// CloseDelay 拍賣建立後多久排定結束
	CloseDelay time.Duration
}
