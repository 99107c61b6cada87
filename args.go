package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"gavel/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-audit", "gavel-shared-audit-stream", "")

	// nats config
	pflag.String("nats-url", "", "")
	pflag.String("nats-subject-for-events", "gavel.auction.events", "")

	// auction config
	pflag.Duration("auction-close-delay", 15*time.Second, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GAVEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:     viper.GetString("redis-addr"),
				Password: viper.GetString("redis-password"),
				DB:       viper.GetInt("redis-db"),
				StreamKeys: api.RedisStreamKeys{
					Audit: viper.GetString("redis-stream-key-for-audit"),
				},
			},
			NATS: api.NATSConfig{
				URL:     viper.GetString("nats-url"),
				Subject: viper.GetString("nats-subject-for-events"),
			},
			Auction: api.AuctionConfig{
				CloseDelay: viper.GetDuration("auction-close-delay"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" && args.ServerConfig.DB.Host != "" && args.ServerConfig.DB.User != "" && args.ServerConfig.Auction.CloseDelay > 0
}
