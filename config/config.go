package config

import (
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	RouteKindProxy    = "proxy"
	RouteKindRedirect = "redirect"
	RouteKindStatic   = "static"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ResolverConfig struct {
	TTL     string `mapstructure:"ttl"`
	Timeout string `mapstructure:"timeout"`
}

type ProxyConfig struct {
	ConnectTimeout  string `mapstructure:"connect_timeout"`
	ResponseTimeout string `mapstructure:"response_timeout"`

	// MaxBodyBytes caps incoming request bodies. Zero means no limit.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type HealthCheckConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type BackendConfig struct {
	Name       string `mapstructure:"name"`
	Hostname   string `mapstructure:"hostname"`
	Port       int    `mapstructure:"port"`
	HealthPath string `mapstructure:"health_path"`
	TTL        string `mapstructure:"ttl"`
}

type RouteConfig struct {
	Prefix   string `mapstructure:"prefix"`
	Kind     string `mapstructure:"kind"`
	Priority int    `mapstructure:"priority"`

	// proxy routes
	Backend         string `mapstructure:"backend"`
	StripPrefix     bool   `mapstructure:"strip_prefix"`
	ConnectTimeout  string `mapstructure:"connect_timeout"`
	ResponseTimeout string `mapstructure:"response_timeout"`

	// redirect routes
	Target string `mapstructure:"target"`
	Status int    `mapstructure:"status"`

	// static routes
	Dir string `mapstructure:"dir"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	Routes      []RouteConfig     `mapstructure:"routes"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("resolver.ttl", "5s")
	viper.SetDefault("resolver.timeout", "2s")
	viper.SetDefault("proxy.connect_timeout", "2s")
	viper.SetDefault("proxy.response_timeout", "30s")
	viper.SetDefault("proxy.max_body_bytes", 0)
	viper.SetDefault("health_check.enabled", false)
	viper.SetDefault("health_check.interval", "10s")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Resolver,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(ResolverConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ResolverConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.TTL, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.Timeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.ConnectTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.ResponseTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.MaxBodyBytes, validation.Min(int64(0))),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateRouteConfig)),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.Name == "" {
		return validation.NewError("validation_empty_name", "backend name cannot be empty")
	}

	if backend.Hostname == "" {
		return validation.NewError("validation_empty_hostname", "backend hostname cannot be empty")
	}

	if err := is.Host.Validate(backend.Hostname); err != nil {
		return validation.NewError("validation_invalid_hostname", "invalid backend hostname")
	}

	if backend.Port < 1 || backend.Port > 65535 {
		return validation.NewError("validation_invalid_port", "backend port must be between 1 and 65535")
	}

	if backend.HealthPath != "" && !strings.HasPrefix(backend.HealthPath, "/") {
		return validation.NewError("validation_invalid_health_path", "health path must start with /")
	}

	if backend.TTL != "" {
		if err := validateDuration(backend.TTL); err != nil {
			return err
		}
	}

	return nil
}

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	if !strings.HasPrefix(route.Prefix, "/") {
		return validation.NewError("validation_invalid_prefix", "route prefix must start with /")
	}

	switch route.Kind {
	case RouteKindProxy:
		if route.Backend == "" {
			return validation.NewError("validation_missing_backend", "proxy route requires a backend name")
		}
	case RouteKindRedirect:
		if !strings.HasPrefix(route.Target, "/") {
			return validation.NewError("validation_invalid_target", "redirect target must start with /")
		}
		switch route.Status {
		case 0, 301, 302, 307, 308:
		default:
			return validation.NewError("validation_invalid_status", "redirect status must be 301, 302, 307 or 308")
		}
	case RouteKindStatic:
		if route.Dir == "" {
			return validation.NewError("validation_missing_dir", "static route requires a directory")
		}
	default:
		return validation.NewError("validation_invalid_kind", "route kind must be proxy, redirect or static")
	}

	for _, d := range []string{route.ConnectTimeout, route.ResponseTimeout} {
		if d != "" {
			if err := validateDuration(d); err != nil {
				return err
			}
		}
	}

	return nil
}
