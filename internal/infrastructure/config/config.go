package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig        `mapstructure:"app"`
	Server      ServerConfig     `mapstructure:"server"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	Generator   GeneratorConfig  `mapstructure:"generator"`
	Quota       QuotaConfig      `mapstructure:"quota"`
	Resolver    ResolverConfig   `mapstructure:"resolver"`
	Vocabulary  VocabularyConfig `mapstructure:"vocabulary"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Network     NetworkConfig    `mapstructure:"network"`
	DedupWindow time.Duration    `mapstructure:"dedup_window"`
	LogLevel    string           `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Version  string `mapstructure:"version"`
	Name     string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig Redis 配置（device store、生成快取與額度計數）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig 共享食譜池配置
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// GeneratorConfig 生成服務配置
type GeneratorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// QuotaConfig 額度配置
type QuotaConfig struct {
	DailyLimit         int           `mapstructure:"daily_limit"`          // 訂閱用戶每日生成上限
	InitialCredits     int           `mapstructure:"initial_credits"`      // 非訂閱用戶初始點數
	EntitlementBaseURL string        `mapstructure:"entitlement_base_url"` // 外部授權服務，留空則使用本地計數
	Timeout            time.Duration `mapstructure:"timeout"`
}

// ResolverConfig 解析流程配置
type ResolverConfig struct {
	SharedPoolTTL      time.Duration `mapstructure:"shared_pool_ttl"`
	GenerationCacheTTL time.Duration `mapstructure:"generation_cache_ttl"`
	GeneratedTTL       time.Duration `mapstructure:"generated_ttl"`
	StaticTTL          time.Duration `mapstructure:"static_ttl"`
	GenCacheWriteTTL   time.Duration `mapstructure:"gen_cache_write_ttl"` // 生成快取層的寫入壽命
	HalfLifeFraction   float64       `mapstructure:"half_life_fraction"`  // 過了 ttl 的這個比例即視為陳舊
	CacheCapacity      int           `mapstructure:"cache_capacity"`
	EvictBatch         int           `mapstructure:"evict_batch"`
	ExactCap           int           `mapstructure:"exact_cap"`
	NearCap            int           `mapstructure:"near_cap"`
	NearMinRatio       float64       `mapstructure:"near_min_ratio"`
	NearMinMatching    int           `mapstructure:"near_min_matching"`
	NearMaxMissing     int           `mapstructure:"near_max_missing"`
	PoolOverlapRatio   float64       `mapstructure:"pool_overlap_ratio"` // 共享池召回的最小重疊比例
	HistoryLimit       int           `mapstructure:"history_limit"`
	HistoryTTL         time.Duration `mapstructure:"history_ttl"`
}

// VocabularyConfig 比對詞彙配置
// 同義詞與基礎食材清單外部化，演算法本身保持資料驅動
type VocabularyConfig struct {
	Synonyms   map[string][]string `mapstructure:"synonyms"`
	Basics     []string            `mapstructure:"basics"`
	BasicBonus float64             `mapstructure:"basic_bonus"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// NetworkConfig 網路可達性探測配置
type NetworkConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"` // 0 表示不啟動探測
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// 加載 .env 文件（允許不存在）
	_ = godotenv.Load()

	// 設定預設值
	setDefaults()

	// 設定環境變數前綴
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 綁定環境變量
	viper.BindEnv("generator.api_key", "GENERATOR_API_KEY")
	viper.BindEnv("generator.model", "GENERATOR_MODEL")
	viper.BindEnv("generator.base_url", "GENERATOR_BASE_URL")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	viper.BindEnv("quota.entitlement_base_url", "ENTITLEMENT_BASE_URL")
	viper.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	viper.BindEnv("rate_limit.requests", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	viper.BindEnv("dedup_window", "DEDUP_WINDOW")
	viper.BindEnv("log_level", "LOG_LEVEL")

	// 設定設定檔名稱和路徑
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// 讀取設定檔
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "recipe-resolver")

	// 伺服器設定
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Redis 設定
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// 共享池設定
	viper.SetDefault("postgres.enabled", false)
	viper.SetDefault("postgres.dsn", "")

	// 生成服務設定
	viper.SetDefault("generator.enabled", false)
	viper.SetDefault("generator.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("generator.model", "qwen/qwen-2.5-72b-instruct:free")
	viper.SetDefault("generator.max_tokens", 2048)
	viper.SetDefault("generator.timeout", "60s")

	// 額度設定
	viper.SetDefault("quota.daily_limit", 20)
	viper.SetDefault("quota.initial_credits", 3)
	viper.SetDefault("quota.entitlement_base_url", "")
	viper.SetDefault("quota.timeout", "5s")

	// 解析流程設定
	viper.SetDefault("resolver.shared_pool_ttl", "24h")
	viper.SetDefault("resolver.generation_cache_ttl", "12h")
	viper.SetDefault("resolver.generated_ttl", "168h")
	viper.SetDefault("resolver.static_ttl", "1h")
	viper.SetDefault("resolver.gen_cache_write_ttl", "720h")
	viper.SetDefault("resolver.half_life_fraction", 0.5)
	viper.SetDefault("resolver.cache_capacity", 100)
	viper.SetDefault("resolver.evict_batch", 20)
	viper.SetDefault("resolver.exact_cap", 15)
	viper.SetDefault("resolver.near_cap", 25)
	viper.SetDefault("resolver.near_min_ratio", 0.3)
	viper.SetDefault("resolver.near_min_matching", 2)
	viper.SetDefault("resolver.near_max_missing", 3)
	viper.SetDefault("resolver.pool_overlap_ratio", 0.3)
	viper.SetDefault("resolver.history_limit", 50)
	viper.SetDefault("resolver.history_ttl", "720h")

	// 比對詞彙設定
	viper.SetDefault("vocabulary.basics", []string{"salt", "oil", "water", "sugar", "pepper"})
	viper.SetDefault("vocabulary.basic_bonus", 2.0)
	viper.SetDefault("vocabulary.synonyms", map[string][]string{
		"scallion": {"green onion", "spring onion"},
		"cilantro": {"coriander"},
		"eggplant": {"aubergine"},
		"zucchini": {"courgette"},
		"shrimp":   {"prawn"},
		"chickpea": {"garbanzo bean"},
		"corn":     {"maize", "sweetcorn"},
		"soy":      {"soybean", "soya"},
	})

	// 限流設定
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests", 100)
	viper.SetDefault("rate_limit.window", "1m")

	// 網路探測設定
	viper.SetDefault("network.probe_url", "https://www.google.com/generate_204")
	viper.SetDefault("network.probe_interval", "30s")

	// 去重視窗預設
	viper.SetDefault("dedup_window", "1s")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	// 驗證解析流程設定
	if config.Resolver.CacheCapacity <= 0 {
		return fmt.Errorf("invalid cache capacity")
	}
	if config.Resolver.EvictBatch <= 0 || config.Resolver.EvictBatch > config.Resolver.CacheCapacity {
		return fmt.Errorf("invalid evict batch")
	}
	if config.Resolver.HalfLifeFraction <= 0 || config.Resolver.HalfLifeFraction >= 1 {
		return fmt.Errorf("invalid half life fraction")
	}
	for name, ttl := range map[string]time.Duration{
		"shared_pool_ttl":      config.Resolver.SharedPoolTTL,
		"generation_cache_ttl": config.Resolver.GenerationCacheTTL,
		"generated_ttl":        config.Resolver.GeneratedTTL,
		"static_ttl":           config.Resolver.StaticTTL,
		"gen_cache_write_ttl":  config.Resolver.GenCacheWriteTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("invalid resolver ttl: %s", name)
		}
	}

	// 驗證生成服務設定
	if config.Generator.Enabled {
		if config.Generator.APIKey == "" {
			return fmt.Errorf("generator api key is required when generator is enabled")
		}
		if config.Generator.Timeout <= 0 {
			return fmt.Errorf("invalid generator timeout")
		}
	}

	// 驗證共享池設定
	if config.Postgres.Enabled && config.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required when shared pool is enabled")
	}

	return nil
}
