package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type GRPCConfig struct {
	Port int `mapstructure:"port"` // 0 — gRPC не поднимается
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (отзыв токенов: Set + Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — ключи и параметры выпуска/проверки JWT.
type AuthConfig struct {
	SignatureAlgorithm     string   `mapstructure:"signature_algorithm"`
	KeyFileLocation        string   `mapstructure:"key_file_location"`
	PublicKeyFileLocation  string   `mapstructure:"public_key_file_location"`
	KeyPassword            string   `mapstructure:"key_password"`    // только для зашифрованного RSA ключа
	HMACSecretKey          string   `mapstructure:"hmac_secret_key"` // только для HS*
	Issuer                 string   `mapstructure:"issuer"`
	ExpirationTime         int64    `mapstructure:"expiration_time"`
	ExpirationTimeUnit     string   `mapstructure:"expiration_time_unit"`
	ObligatoryClaims       []string `mapstructure:"obligatory_claims"`
	ValidateClaims         bool     `mapstructure:"validate_claims"`
	PrintJWTExceptionTrace bool     `mapstructure:"print_jwt_exception_trace"`

	CookieName             string `mapstructure:"cookie_name"`
	PreferCookieOverHeader bool   `mapstructure:"prefer_cookie_over_header"`
	ExpiredPolicy          string `mapstructure:"expired_policy"` // reject | pass

	BcryptCost     int     `mapstructure:"bcrypt_cost"`
	LoginRateLimit float64 `mapstructure:"login_rate_limit"` // запросов в секунду на весь инстанс

	PrivateKey []byte `mapstructure:"-"`
	PublicKey  []byte `mapstructure:"-"`
}

// ServiceConfig переводит конфигурацию в параметры сборки JWT сервиса.
func (c AuthConfig) ServiceConfig() (auth.ServiceConfig, error) {
	alg, err := auth.ParseAlgorithm(c.SignatureAlgorithm)
	if err != nil {
		return auth.ServiceConfig{}, err
	}
	ttl, err := auth.ExpirationDuration(c.ExpirationTime, c.ExpirationTimeUnit)
	if err != nil {
		return auth.ServiceConfig{}, err
	}
	return auth.ServiceConfig{
		Keys: auth.KeySource{
			Algorithm:     alg,
			PrivateKeyPEM: string(c.PrivateKey),
			PublicKeyPEM:  string(c.PublicKey),
			KeyPassword:   c.KeyPassword,
			HMACSecret:    c.HMACSecretKey,
		},
		Issuer: auth.IssuerConfig{
			Issuer:     c.Issuer,
			Expiration: ttl,
		},
		Verifier: auth.VerifierConfig{
			ValidateClaims:      c.ValidateClaims,
			ObligatoryClaims:    c.ObligatoryClaims,
			PrintExceptionTrace: c.PrintJWTExceptionTrace,
		},
	}, nil
}

// AuditConfig — буфер и период сброса журнала аутентификации.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // пусто — метрики отдаются основным роутером
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// ConfigSource держит экземпляр viper, чтобы после Load можно было следить за изменениями файла.
type ConfigSource struct {
	v *viper.Viper
}

// NewConfigSource ищет config.yaml в переданных путях (по умолчанию "." и "./configs").
func NewConfigSource(paths ...string) *ConfigSource {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// AUTH_ISSUER=... перекроет auth.issuer
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	return &ConfigSource{v: v}
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	return NewConfigSource().Load()
}

func (s *ConfigSource) Load() (*Config, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}
	return s.decode()
}

// Watch вызывает onChange при каждом изменении файла конфигурации.
// Используется для ротации ключей: сервис пересобирается целиком.
func (s *ConfigSource) Watch(onChange func(*Config, error)) {
	s.v.OnConfigChange(func(fsnotify.Event) {
		onChange(s.decode())
	})
	s.v.WatchConfig()
}

func (s *ConfigSource) decode() (*Config, error) {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s),
	// если нет — читаем файл по указанному пути
	var err error
	if cfg.Auth.PrivateKey, err = loadKeyResource(cfg.Auth.KeyFileLocation, "AUTH_PRIVATE_KEY_DATA"); err != nil {
		return nil, err
	}
	if cfg.Auth.PublicKey, err = loadKeyResource(cfg.Auth.PublicKeyFileLocation, "AUTH_PUBLIC_KEY_DATA"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)

	// viper применяет AutomaticEnv при Unmarshal только к известным ключам,
	// поэтому даже пустые значения регистрируем явно
	for _, key := range []string{
		"server.host", "database.url", "redis.password", "metrics.addr",
		"auth.key_file_location", "auth.public_key_file_location",
		"auth.key_password", "auth.hmac_secret_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("grpc.port", 0)
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.signature_algorithm", "RS256")
	v.SetDefault("auth.issuer", "authgate")
	v.SetDefault("auth.expiration_time", 30)
	v.SetDefault("auth.expiration_time_unit", "MINUTES")
	v.SetDefault("auth.obligatory_claims", []string{"sub", "iss", "exp"})
	v.SetDefault("auth.cookie_name", auth.DefaultCookieName)
	v.SetDefault("auth.validate_claims", true)
	v.SetDefault("auth.print_jwt_exception_trace", false)
	v.SetDefault("auth.prefer_cookie_over_header", false)
	v.SetDefault("auth.expired_policy", "reject")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.login_rate_limit", 50)
}

// loadKeyResource: PEM из ENV имеет приоритет над файлом.
func loadKeyResource(path string, envDataKey string) ([]byte, error) {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// путь указан явно — молча работать без ключа нельзя
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	return data, nil
}
