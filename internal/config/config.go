package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type ChainConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	RouterAddress string        `mapstructure:"router_address"`
	WBNBAddress   string        `mapstructure:"wbnb_address"`
	BUSDAddress   string        `mapstructure:"busd_address"`
	WalletAddress string        `mapstructure:"wallet_address"`
	// PrivateKey is hex-encoded and normally supplied via
	// DEXBOT_CHAIN_PRIVATE_KEY rather than the config file. Empty means
	// read-only mode: prices and balances work, swaps are refused.
	PrivateKey  string        `mapstructure:"private_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinPoolSize float64       `mapstructure:"min_pool_size_bnb"`
}

type WatchConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	ExecWorkers int           `mapstructure:"exec_workers"`
	ExecQueue   int           `mapstructure:"exec_queue"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

type PortfolioConfig struct {
	SnapshotSpec string `mapstructure:"snapshot_spec"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("chain.rpc_url", "https://bsc-dataseed.binance.org")
	v.SetDefault("chain.router_address", "0x10ED43C718714eb63d5aA57B78B54704E256024E")
	v.SetDefault("chain.wbnb_address", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	v.SetDefault("chain.busd_address", "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56")
	v.SetDefault("chain.timeout", "15s")
	v.SetDefault("chain.min_pool_size_bnb", 25)
	v.SetDefault("watch.interval", "30s")
	v.SetDefault("watch.exec_workers", 4)
	v.SetDefault("watch.exec_queue", 16)
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("portfolio.snapshot_spec", "@every 1h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
