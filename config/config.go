package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Social   SocialConfig   `mapstructure:"social"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Debug       bool   `mapstructure:"debug"`
	AdminKey    string `mapstructure:"admin_key"`
	FrontendURL string `mapstructure:"frontend_url"` // base for checkout redirect URLs
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | sqlite_memory | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminWhitelist restricts /api/admin to these IPs when non-empty.
	AdminWhitelist []string `mapstructure:"admin_whitelist"`
}

type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir"`
	MaxAvatarKB int64  `mapstructure:"max_avatar_kb"`
}

type BillingConfig struct {
	StripeSecretKey string `mapstructure:"stripe_secret_key"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
	Currency        string `mapstructure:"currency"`
	SuccessPath     string `mapstructure:"success_path"`
	CancelPath      string `mapstructure:"cancel_path"`

	// Monthly plan prices in the smallest currency unit, keyed by plan type.
	PlanPriceCents map[string]int64 `mapstructure:"plan_price_cents"`
}

type SocialConfig struct {
	FriendPageSize  int           `mapstructure:"friend_page_size"`
	MessagePageSize int           `mapstructure:"message_page_size"`
	PlanSweepEvery  time.Duration `mapstructure:"plan_sweep_every"`
	RankingRefresh  time.Duration `mapstructure:"ranking_refresh"`
	RankingSize     int           `mapstructure:"ranking_size"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/proclinks.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "168h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("storage.upload_dir", "./data/uploads")
	v.SetDefault("storage.max_avatar_kb", 2048)
	v.SetDefault("billing.currency", "usd")
	v.SetDefault("billing.success_path", "/payment/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("billing.cancel_path", "/payment/cancel")
	v.SetDefault("billing.plan_price_cents", map[string]int64{
		"BRONZE": 299,
		"SILVER": 599,
		"GOLD":   999,
	})
	v.SetDefault("social.friend_page_size", 20)
	v.SetDefault("social.message_page_size", 50)
	v.SetDefault("social.plan_sweep_every", "1h")
	v.SetDefault("social.ranking_refresh", "10m")
	v.SetDefault("social.ranking_size", 100)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
