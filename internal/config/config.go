package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	authConfig "github.com/iurnickita/cardterminal/internal/auth/config"
	bridgeConfig "github.com/iurnickita/cardterminal/internal/bridge/config"
	gateConfig "github.com/iurnickita/cardterminal/internal/gate/config"
	handlerConfig "github.com/iurnickita/cardterminal/internal/handler/config"
	identityConfig "github.com/iurnickita/cardterminal/internal/identity/config"
	ingressConfig "github.com/iurnickita/cardterminal/internal/ingress/config"
	loggerConfig "github.com/iurnickita/cardterminal/internal/logger/config"
	readerConfig "github.com/iurnickita/cardterminal/internal/reader/config"
	storeConfig "github.com/iurnickita/cardterminal/internal/store/config"
	tracingConfig "github.com/iurnickita/cardterminal/internal/tracing/config"
)

const envPrefix = "CARDTERMINAL_"

// ErrHelp возвращается на -h/--help, текст справки даёт Usage
var ErrHelp = pflag.ErrHelp

type Config struct {
	Handler  handlerConfig.Config  `yaml:"handler"`
	Auth     authConfig.Config     `yaml:"auth"`
	Logger   loggerConfig.Config   `yaml:"logger"`
	Store    storeConfig.Config    `yaml:"store"`
	Identity identityConfig.Config `yaml:"identity"`
	Gate     gateConfig.Config     `yaml:"gate"`
	Ingress  ingressConfig.Config  `yaml:"ingress"`
	Bridge   bridgeConfig.Config   `yaml:"bridge"`
	Reader   readerConfig.Config   `yaml:"reader"`
	Tracing  tracingConfig.Config  `yaml:"tracing"`
}

func Default() Config {
	return Config{
		Handler:  handlerConfig.Default(),
		Auth:     authConfig.Default(),
		Logger:   loggerConfig.Config{LogLevel: "info"},
		Identity: identityConfig.Default(),
		Gate:     gateConfig.Default(),
		Ingress:  ingressConfig.Default(),
		Bridge:   bridgeConfig.Default(),
		Reader:   readerConfig.Default(),
		Tracing:  tracingConfig.Default(),
	}
}

// Usage описывает флаги командной строки.
func Usage() string {
	var path string
	cfg := Default()
	fs := newFlagSet(&cfg, &path)
	return "Usage of cardterminal:\n" + fs.FlagUsages()
}

// GetConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// (--config), затем флаги, затем переменные окружения CARDTERMINAL_*.
func GetConfig(args []string) (Config, error) {
	// первый проход: только путь к файлу
	var path string
	probe := Default()
	fs := newFlagSet(&probe, &path)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if env, ok := os.LookupEnv(envPrefix + "CONFIG"); ok {
		path = env
	}

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	// второй проход: флаги поверх файла
	fs = newFlagSet(&cfg, &path)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func newFlagSet(cfg *Config, path *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("cardterminal", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(path, "config", *path, "path to YAML config file")

	fs.StringVarP(&cfg.Handler.ServerAddr, "address", "a", cfg.Handler.ServerAddr, "HTTP listen address")
	fs.StringVarP(&cfg.Logger.LogLevel, "log-level", "l", cfg.Logger.LogLevel, "log level")
	fs.StringVarP(&cfg.Store.DBDsn, "database-dsn", "d", cfg.Store.DBDsn, "PostgreSQL DSN, empty for in-memory store")

	fs.StringSliceVar(&cfg.Identity.Finders, "finders", cfg.Identity.Finders, "ordered identity sources (store, redis, directory)")
	fs.DurationVar(&cfg.Identity.CacheTTL, "cache-ttl", cfg.Identity.CacheTTL, "identity cache TTL")
	fs.DurationVar(&cfg.Identity.FinderTimeout, "finder-timeout", cfg.Identity.FinderTimeout, "timeout of a single finder lookup")
	fs.BoolVar(&cfg.Identity.Prefetch, "prefetch", cfg.Identity.Prefetch, "warm the identity cache at startup")
	fs.StringVarP(&cfg.Identity.DirectoryAddr, "directory-address", "r", cfg.Identity.DirectoryAddr, "remote card directory base URL")
	fs.StringVar(&cfg.Identity.RedisAddr, "redis-addr", cfg.Identity.RedisAddr, "redis address of the shared card directory")

	fs.DurationVar(&cfg.Gate.AwaitTimeout, "await-timeout", cfg.Gate.AwaitTimeout, "how long an order waits for a card")

	fs.IntVar(&cfg.Ingress.Workers, "workers", cfg.Ingress.Workers, "card tap workers")

	fs.IntVar(&cfg.Bridge.QueueCapacity, "queue-capacity", cfg.Bridge.QueueCapacity, "kiosk notification queue capacity")
	fs.StringVar(&cfg.Bridge.DropPolicy, "drop-policy", cfg.Bridge.DropPolicy, "queue overflow policy (oldest, newest)")
	fs.DurationVar(&cfg.Bridge.GraceWindow, "grace-window", cfg.Bridge.GraceWindow, "how long notifications wait for a kiosk to connect")
	fs.IntVar(&cfg.Bridge.MaxSessions, "max-sessions", cfg.Bridge.MaxSessions, "connected kiosk limit")

	fs.StringVar(&cfg.Reader.Type, "reader", cfg.Reader.Type, "card reader (none, stdin, device)")
	fs.StringVar(&cfg.Reader.Device, "reader-device", cfg.Reader.Device, "card reader device file")
	fs.IntVar(&cfg.Reader.Radix, "reader-radix", cfg.Reader.Radix, "card number radix (10, 16)")
	fs.StringVar(&cfg.Reader.Session, "session", cfg.Reader.Session, "kiosk session of the local reader")

	fs.StringVar(&cfg.Auth.KioskSecret, "kiosk-secret", cfg.Auth.KioskSecret, "shared kiosk login secret")
	fs.BoolVar(&cfg.Auth.TerminalFirewall, "terminal-firewall", cfg.Auth.TerminalFirewall, "accept card pushes from localhost only")

	fs.BoolVar(&cfg.Tracing.Enabled, "tracing", cfg.Tracing.Enabled, "export traces over OTLP/HTTP")
	fs.StringVar(&cfg.Tracing.Endpoint, "tracing-endpoint", cfg.Tracing.Endpoint, "OTLP/HTTP endpoint")

	return fs
}

func applyEnv(cfg *Config) error {
	var errs error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("ADDRESS", &cfg.Handler.ServerAddr)
	str("LOG_LEVEL", &cfg.Logger.LogLevel)
	str("DATABASE_DSN", &cfg.Store.DBDsn)
	if v, ok := os.LookupEnv(envPrefix + "FINDERS"); ok {
		cfg.Identity.Finders = splitList(v)
	}
	dur("CACHE_TTL", &cfg.Identity.CacheTTL)
	str("DIRECTORY_ADDRESS", &cfg.Identity.DirectoryAddr)
	str("REDIS_ADDR", &cfg.Identity.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Identity.RedisPassword)
	dur("AWAIT_TIMEOUT", &cfg.Gate.AwaitTimeout)
	num("QUEUE_CAPACITY", &cfg.Bridge.QueueCapacity)
	str("DROP_POLICY", &cfg.Bridge.DropPolicy)
	dur("GRACE_WINDOW", &cfg.Bridge.GraceWindow)
	str("READER", &cfg.Reader.Type)
	str("READER_DEVICE", &cfg.Reader.Device)
	str("SESSION", &cfg.Reader.Session)
	str("KIOSK_SECRET", &cfg.Auth.KioskSecret)
	str("TOKEN_SECRET", &cfg.Auth.TokenSecret)

	return errs
}

func splitList(v string) []string {
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// Validate отклоняет настройки, с которыми сервис не может работать
func (cfg Config) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Handler.ServerAddr == "" {
		fail("handler.serverAddr is empty")
	}
	if _, err := zap.ParseAtomicLevel(cfg.Logger.LogLevel); err != nil {
		fail("logger.level: %v", err)
	}

	if len(cfg.Identity.Finders) == 0 {
		fail("identity.finders is empty")
	}
	seen := make(map[string]bool)
	for _, name := range cfg.Identity.Finders {
		switch name {
		case identityConfig.FinderStore:
		case identityConfig.FinderRedis:
			if cfg.Identity.RedisAddr == "" {
				fail("identity.redisAddr is required by the redis finder")
			}
		case identityConfig.FinderDirectory:
			if cfg.Identity.DirectoryAddr == "" {
				fail("identity.directoryAddr is required by the directory finder")
			}
		default:
			fail("identity.finders: unknown finder %q", name)
		}
		if seen[name] {
			fail("identity.finders: %q listed twice", name)
		}
		seen[name] = true
	}
	if cfg.Identity.CacheTTL <= 0 {
		fail("identity.cacheTTL must be positive")
	}
	if cfg.Identity.FinderTimeout <= 0 {
		fail("identity.finderTimeout must be positive")
	}

	if cfg.Gate.AwaitTimeout < 0 {
		fail("gate.awaitTimeout must not be negative")
	}

	if cfg.Ingress.Workers <= 0 || cfg.Ingress.QueueSize <= 0 {
		fail("ingress.workers and ingress.queueSize must be positive")
	}
	if cfg.Ingress.AckBudget < 0 || cfg.Ingress.ResolveTimeout <= 0 {
		fail("ingress.ackBudget must not be negative and ingress.resolveTimeout must be positive")
	}

	if cfg.Bridge.QueueCapacity <= 0 {
		fail("bridge.queueCapacity must be positive")
	}
	if cfg.Bridge.DropPolicy != bridgeConfig.DropOldest && cfg.Bridge.DropPolicy != bridgeConfig.DropNewest {
		fail("bridge.dropPolicy: unknown policy %q", cfg.Bridge.DropPolicy)
	}
	if cfg.Bridge.GraceWindow < 0 {
		fail("bridge.graceWindow must not be negative")
	}
	if cfg.Bridge.MaxSessions <= 0 {
		fail("bridge.maxSessions must be positive")
	}

	switch cfg.Reader.Type {
	case readerConfig.TypeNone, readerConfig.TypeStdin:
	case readerConfig.TypeDevice:
		if cfg.Reader.Device == "" {
			fail("reader.device is required by the device reader")
		}
	default:
		fail("reader.type: unknown reader %q", cfg.Reader.Type)
	}
	if cfg.Reader.Radix != 10 && cfg.Reader.Radix != 16 {
		fail("reader.radix must be 10 or 16")
	}

	return errs
}
