package config

import (
	"fmt"
	"time"
)

// Config represents the global configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Security    SecurityConfig    `mapstructure:"security"`
	Saga        SagaConfig        `mapstructure:"saga"`
	Inventory   InventoryConfig   `mapstructure:"inventory"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Lock        LockConfig        `mapstructure:"lock"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig represents message queue configuration
type QueueConfig struct {
	CouponIssueTopic string `mapstructure:"coupon_issue_topic"`
	OutboxTopic      string `mapstructure:"outbox_topic"`
	BufferSize       int    `mapstructure:"buffer_size"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	RPS     int  `mapstructure:"rps"`
	Burst   int  `mapstructure:"burst"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	JWT struct {
		Secret string        `mapstructure:"secret"`
		Expire time.Duration `mapstructure:"expire"`
		Issuer string        `mapstructure:"issuer"`
	} `mapstructure:"jwt"`
	CORS struct {
		Enabled          bool     `mapstructure:"enabled"`
		AllowOrigins     []string `mapstructure:"allow_origins"`
		AllowMethods     []string `mapstructure:"allow_methods"`
		AllowHeaders     []string `mapstructure:"allow_headers"`
		AllowCredentials bool     `mapstructure:"allow_credentials"`
		MaxAge           int      `mapstructure:"max_age"`
	} `mapstructure:"cors"`
}

// SagaConfig represents saga orchestration configuration
type SagaConfig struct {
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	RecoveryInterval  time.Duration `mapstructure:"recovery_interval"`
	RecoveryCooldown  time.Duration `mapstructure:"recovery_cooldown"`
	RecoveryBatchSize int           `mapstructure:"recovery_batch_size"`
	PurgeInterval     time.Duration `mapstructure:"purge_interval"`
	RetentionWindow   time.Duration `mapstructure:"retention_window"`
}

// InventoryConfig represents inventory ledger configuration
type InventoryConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
	ExpiryBatch    int           `mapstructure:"expiry_batch"`
}

// IdempotencyConfig represents idempotency registry configuration
type IdempotencyConfig struct {
	ZombieTimeout time.Duration `mapstructure:"zombie_timeout"`
	KeyTTL        time.Duration `mapstructure:"key_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// LockConfig represents distributed lock configuration
type LockConfig struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	WaitTime  time.Duration `mapstructure:"wait_time"`
	HoldTime  time.Duration `mapstructure:"hold_time"`
}

// OutboxConfig represents outbox relay configuration
type OutboxConfig struct {
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	RelayBatch    int           `mapstructure:"relay_batch"`
}

// GetAddr returns the server address
func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetDSN returns the database DSN
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		d.Username, d.Password, d.Host, d.Port, d.DBName)
}

// GetAddr returns the Redis address
func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Saga.MaxRetryCount < 0 {
		return fmt.Errorf("invalid saga max retry count: %d", c.Saga.MaxRetryCount)
	}

	if c.Inventory.ReservationTTL <= 0 {
		return fmt.Errorf("reservation ttl must be positive")
	}

	return nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	if c.Queue.CouponIssueTopic == "" {
		c.Queue.CouponIssueTopic = "coupon_issue_requests"
	}
	if c.Queue.OutboxTopic == "" {
		c.Queue.OutboxTopic = "domain_events"
	}
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 1000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "checkout"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 100
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 200
	}

	if c.Security.JWT.Expire == 0 {
		c.Security.JWT.Expire = 2 * time.Hour
	}
	if c.Security.JWT.Issuer == "" {
		c.Security.JWT.Issuer = "checkout"
	}

	if c.Saga.MaxRetryCount == 0 {
		c.Saga.MaxRetryCount = 3
	}
	if c.Saga.RecoveryInterval == 0 {
		c.Saga.RecoveryInterval = 5 * time.Minute
	}
	if c.Saga.RecoveryCooldown == 0 {
		c.Saga.RecoveryCooldown = 10 * time.Minute
	}
	if c.Saga.RecoveryBatchSize == 0 {
		c.Saga.RecoveryBatchSize = 100
	}
	if c.Saga.PurgeInterval == 0 {
		c.Saga.PurgeInterval = 24 * time.Hour
	}
	if c.Saga.RetentionWindow == 0 {
		c.Saga.RetentionWindow = 30 * 24 * time.Hour
	}

	if c.Inventory.ReservationTTL == 0 {
		c.Inventory.ReservationTTL = 15 * time.Minute
	}
	if c.Inventory.ExpiryInterval == 0 {
		c.Inventory.ExpiryInterval = time.Minute
	}
	if c.Inventory.ExpiryBatch == 0 {
		c.Inventory.ExpiryBatch = 500
	}

	if c.Idempotency.ZombieTimeout == 0 {
		c.Idempotency.ZombieTimeout = time.Hour
	}
	if c.Idempotency.KeyTTL == 0 {
		c.Idempotency.KeyTTL = 24 * time.Hour
	}
	if c.Idempotency.SweepInterval == 0 {
		c.Idempotency.SweepInterval = 10 * time.Minute
	}
	if c.Idempotency.CacheTTL == 0 {
		c.Idempotency.CacheTTL = 10 * time.Minute
	}

	if c.Lock.KeyPrefix == "" {
		c.Lock.KeyPrefix = "checkout:lock:"
	}
	if c.Lock.WaitTime == 0 {
		c.Lock.WaitTime = 3 * time.Second
	}
	if c.Lock.HoldTime == 0 {
		c.Lock.HoldTime = 30 * time.Second
	}

	if c.Outbox.RelayInterval == 0 {
		c.Outbox.RelayInterval = time.Second
	}
	if c.Outbox.RelayBatch == 0 {
		c.Outbox.RelayBatch = 200
	}
}
