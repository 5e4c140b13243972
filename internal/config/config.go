package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	CDN       CDNConfig       `mapstructure:"cdn"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	Charset   string `mapstructure:"charset"`
	ParseTime bool   `mapstructure:"parse_time"`
	Loc       string `mapstructure:"loc"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 平台认证配置
// 用于校验平台认证中心签发的访问令牌，与播放令牌使用独立的密钥和签发者
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// PlaybackConfig 播放控制配置
type PlaybackConfig struct {
	// MasterSecret 主密钥，播放令牌签名密钥与 IP 哈希盐由其派生
	MasterSecret string `mapstructure:"master_secret"`
	Issuer       string `mapstructure:"issuer"`
	Audience     string `mapstructure:"audience"`
	// TokenTTL 播放令牌有效期，允许范围 [30s, 300s]
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// MaxConcurrentStreams 单用户并发播放上限
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`
	// ActivityWindow 会话活跃窗口，超过该时长未访问清单的会话不再计入并发
	ActivityWindow time.Duration `mapstructure:"activity_window"`
	// SessionRetention 会话保留时长，超期由清理任务删除
	SessionRetention time.Duration `mapstructure:"session_retention"`
}

// CDNConfig CDN 资源签名配置
type CDNConfig struct {
	Domain         string        `mapstructure:"domain"`
	KeyPairID      string        `mapstructure:"key_pair_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	GrantTTL       time.Duration `mapstructure:"grant_ttl"`
	// PathPrefix 受保护视频资源的路径前缀
	PathPrefix string `mapstructure:"path_prefix"`
}

// RateLimitConfig 令牌签发限流配置
type RateLimitConfig struct {
	// Store 计数存储：memory 或 redis
	Store   string        `mapstructure:"store"`
	Ceiling int           `mapstructure:"ceiling"`
	Window  time.Duration `mapstructure:"window"`
}

// Load 加载配置
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 支持环境变量覆盖
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromFile 从指定文件加载配置
func LoadFromFile(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验启动必需的密钥配置
// 密钥缺失必须在启动时失败，绝不允许静默退化为未签名的访问
func (c *Config) Validate() error {
	if c.Playback.MasterSecret == "" {
		return errors.New("playback.master_secret 未配置")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret 未配置")
	}
	if c.CDN.KeyPairID == "" {
		return errors.New("cdn.key_pair_id 未配置")
	}
	if c.CDN.PrivateKeyPath == "" {
		return errors.New("cdn.private_key_path 未配置")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults() {
	// 服务器默认配置
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")

	// 数据库默认配置
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.user", "postgres")
	viper.SetDefault("database.postgres.password", "")
	viper.SetDefault("database.postgres.dbname", "playback")
	viper.SetDefault("database.postgres.sslmode", "disable")

	// Redis 默认配置
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// 平台认证默认配置
	viper.SetDefault("auth.issuer", "yunketang-auth-center")
	viper.SetDefault("auth.audience", "yunketang-api")

	// 播放控制默认配置
	viper.SetDefault("playback.issuer", "yunketang-playback")
	viper.SetDefault("playback.audience", "playback")
	viper.SetDefault("playback.token_ttl", "90s")
	viper.SetDefault("playback.max_concurrent_streams", 2)
	viper.SetDefault("playback.activity_window", "5m")
	viper.SetDefault("playback.session_retention", "24h")

	// CDN 默认配置
	viper.SetDefault("cdn.domain", "cdn.yunketang.example.com")
	viper.SetDefault("cdn.grant_ttl", "5m")
	viper.SetDefault("cdn.path_prefix", "/courses")

	// 限流默认配置
	viper.SetDefault("rate_limit.store", "redis")
	viper.SetDefault("rate_limit.ceiling", 10)
	viper.SetDefault("rate_limit.window", "60s")
}
