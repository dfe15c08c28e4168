package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/risk"
)

// Config - корневая структура конфигурации шлюза и консоли.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Console  ServerConfig   `mapstructure:"console"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Только для шлюза
	Upstream    string `mapstructure:"upstream"`     // куда проксируем "чистый" трафик
	MetricsPort int    `mapstructure:"metrics_port"` // /metrics
	GRPCPort    int    `mapstructure:"grpc_port"`    // grpc.health.v1
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и блоклист).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig - RS256 ключи токенов консоли и учётки операторов.
// Без приватного ключа консоль только проверяет токены внешнего IdP.
type AuthConfig struct {
	PublicKeyPath  string `mapstructure:"public_key_path"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PublicKey      []byte
	PrivateKey     []byte

	TokenTTL  time.Duration     `mapstructure:"token_ttl"`
	Operators []domain.Operator `mapstructure:"operators"`
}

// EngineConfig - настройки движка вмешательств (Data Plane).
type EngineConfig struct {
	// Общий бюджет памяти под записи вмешательств всех транзакций (байты, 0 - без лимита)
	InterventionBudget int64 `mapstructure:"intervention_budget"`
	MaxLogBytes        int   `mapstructure:"max_log_bytes"`
	MaxURLBytes        int   `mapstructure:"max_url_bytes"`

	DefaultAbortStatus    int `mapstructure:"default_abort_status"`
	DefaultRedirectStatus int `mapstructure:"default_redirect_status"`

	// FailClosed: ошибка оценщика превращается в abort 503 вместо пропуска
	FailClosed bool `mapstructure:"fail_closed"`

	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	RulesDir     string `mapstructure:"rules_dir"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Внешний детектор (опционально) и его защита
	DetectorURL     string        `mapstructure:"detector_url"`
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
	DetectorRPS     float64       `mapstructure:"detector_rps"`
	DetectorBurst   int           `mapstructure:"detector_burst"`

	// Настройки Circuit Breaker для внешнего детектора
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	// Пороги на поля JSON-тела (risk.Analyzer)
	RiskLimits []risk.Limit `mapstructure:"risk_limits"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	return load(v)
}

// LoadConfigFile читает конфиг по явному пути (флаг -config).
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// ENV перекрывает файл: ENGINE_FAIL_CLOSED=true перекроет engine.fail_closed
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет - работаем на ENV и дефолтах
	}

	var cfg Config
	// action: abort в risk_limits разбирается через UnmarshalText
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.grpc_port", 50052)
	v.SetDefault("server.upstream", "http://localhost:3000")
	v.SetDefault("console.port", 8000)
	v.SetDefault("console.read_timeout", 5*time.Second)
	v.SetDefault("console.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("engine.intervention_budget", 64<<20)
	v.SetDefault("engine.max_log_bytes", 64<<10)
	v.SetDefault("engine.max_url_bytes", 8<<10)
	v.SetDefault("engine.default_abort_status", 403)
	v.SetDefault("engine.default_redirect_status", 302)
	v.SetDefault("engine.max_body_bytes", 1<<20)
	v.SetDefault("engine.rules_dir", "./configs/rules")
	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.detector_timeout", 2*time.Second)
	v.SetDefault("engine.detector_rps", 100)
	v.SetDefault("engine.detector_burst", 20)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
}

// loadKeyResource - PEM из ENV (Docker/K8s) либо из файла по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
