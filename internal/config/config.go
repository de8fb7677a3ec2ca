package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig 选择存储驱动：mysql 或 postgres
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	LogLevel string `mapstructure:"log_level"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvent    string `mapstructure:"ledger_event"`
	P2PTradeResult string `mapstructure:"p2p_trade_result"`
}

type AuthConfig struct {
	JWTSecret      string   `mapstructure:"jwt_secret"`
	TokenTTLHours  int      `mapstructure:"token_ttl_hours"`
	AdminEmails    []string `mapstructure:"admin_emails"`
	LoginRateLimit float64  `mapstructure:"login_rate_limit"`
	LoginBurst     int      `mapstructure:"login_burst"`
}

// WebhookConfig 银行到账通知（Sepay）相关配置
type WebhookConfig struct {
	APIKey          string `mapstructure:"api_key"`
	DedupeReference bool   `mapstructure:"dedupe_reference"`
}

// BusinessConfig 业务参数，挖矿与佣金公式的常量都在这里
type BusinessConfig struct {
	BaseDailyRate     string `mapstructure:"base_daily_rate"`
	InvestmentYield   string `mapstructure:"investment_yield"`
	TokenPrice        string `mapstructure:"token_price"`
	CommissionRate    string `mapstructure:"commission_rate"`
	TradeTimeoutHours int    `mapstructure:"trade_timeout_hours"`
	MaxRetryCount     int    `mapstructure:"max_retry_count"`
	OrderCacheSeconds int    `mapstructure:"order_cache_seconds"`
}

// Rates 解析后的业务常量
type Rates struct {
	BaseDailyRate   decimal.Decimal
	InvestmentYield decimal.Decimal
	TokenPrice      decimal.Decimal
	CommissionRate  decimal.Decimal
}

func (b BusinessConfig) Rates() (Rates, error) {
	var (
		r   Rates
		err error
	)
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"business.base_daily_rate", b.BaseDailyRate, &r.BaseDailyRate},
		{"business.investment_yield", b.InvestmentYield, &r.InvestmentYield},
		{"business.token_price", b.TokenPrice, &r.TokenPrice},
		{"business.commission_rate", b.CommissionRate, &r.CommissionRate},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return Rates{}, fmt.Errorf("%s 不是合法数字: %w", f.name, err)
		}
		if f.dst.IsNegative() {
			return Rates{}, fmt.Errorf("%s 不能为负数", f.name)
		}
	}
	if !r.TokenPrice.IsPositive() {
		return Rates{}, errors.New("business.token_price 必须大于 0")
	}
	return r, nil
}

// MustRates 配置已经过 Validate 时使用
func (b BusinessConfig) MustRates() Rates {
	r, err := b.Rates()
	if err != nil {
		panic(err)
	}
	return r
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("postgres.max_open_conns", 5)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("kafka.topic.ledger_event", "ledger_event")
	v.SetDefault("kafka.topic.p2p_trade_result", "p2p_trade_result")
	v.SetDefault("auth.token_ttl_hours", 24)
	v.SetDefault("auth.login_rate_limit", 1.0)
	v.SetDefault("auth.login_burst", 5)
	v.SetDefault("webhook.dedupe_reference", true)
	v.SetDefault("business.base_daily_rate", "0.1")
	v.SetDefault("business.investment_yield", "0.075")
	v.SetDefault("business.token_price", "0.1")
	v.SetDefault("business.commission_rate", "0.1")
	v.SetDefault("business.trade_timeout_hours", 0)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.order_cache_seconds", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件
// 环境变量优先级高于文件，前缀 PFT_，例如 PFT_MYSQL_HOST 覆盖 mysql.host
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = config
	return config, nil
}

// Validate 启动前校验关键配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return errors.New("database.driver 只支持 mysql 或 postgres")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret 不能为空")
	}
	if _, err := c.Business.Rates(); err != nil {
		return err
	}
	return nil
}
