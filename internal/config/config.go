package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// MinReceiverPort is the lowest port the receiver will listen on.
const MinReceiverPort = 20000

const DefaultReceiverAddr = ":25150"

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json console"` // json or console
}

type TargetConfig struct {
	// Host and Port, when both set, start a session at boot.
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type TransportConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

type SessionConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	MaxWriteErrors int           `mapstructure:"max_write_errors" validate:"gte=0"`
	DeviceLabel    string        `mapstructure:"device_label"`
	SourceID       string        `mapstructure:"source_id"`
}

type LocationConfig struct {
	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	MinDistance    float64       `mapstructure:"min_distance" validate:"gte=0"`
	Step           float64       `mapstructure:"step" validate:"gte=0"`
	StartLatitude  float64       `mapstructure:"start_latitude" validate:"latitude"`
	StartLongitude float64       `mapstructure:"start_longitude" validate:"longitude"`
	Seed           int64         `mapstructure:"seed"`
}

type MonitoringConfig struct {
	// Addr empty disables the monitoring API.
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ClientConfig struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Target     TargetConfig     `mapstructure:"target"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Session    SessionConfig    `mapstructure:"session"`
	Location   LocationConfig   `mapstructure:"location"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	EventNode  uint64           `mapstructure:"event_node"`
}

type ListenConfig struct {
	Addr          string        `mapstructure:"addr" validate:"required,receiver_port"`
	ProxyProtocol bool          `mapstructure:"proxy_protocol"`
	JoinLabel     bool          `mapstructure:"join_label"`
	MaxLineLength int           `mapstructure:"max_line_length" validate:"gte=64"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

type TunnelConfig struct {
	// Addr empty disables the reverse tunnel.
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token" validate:"max=64"`
	// Retry is the wait before redialing a lost tunnel.
	Retry time.Duration `mapstructure:"retry" validate:"gte=0"`
}

type StoreConfig struct {
	File          string        `mapstructure:"file"`
	PostgresURL   string        `mapstructure:"postgres_url"`
	PostgresTable string        `mapstructure:"postgres_table" validate:"required"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
	NatsURL       string        `mapstructure:"nats_url"`
	NatsSubject   string        `mapstructure:"nats_subject" validate:"required"`
	Log           bool          `mapstructure:"log"`
}

type WebConfig struct {
	// Addr empty disables the websocket viewer endpoint.
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ReceiverConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Listen  ListenConfig  `mapstructure:"listen"`
	Tunnel  TunnelConfig  `mapstructure:"tunnel"`
	Store   StoreConfig   `mapstructure:"store"`
	Web     WebConfig     `mapstructure:"web"`
}

func newViper(prefix, path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	// env overrides: GPSCLIENT_SESSION_TICK_INTERVAL etc.
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	return v
}

func load(v *viper.Viper, path string, out interface{}) error {
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("receiver_port", func(fl validator.FieldLevel) bool {
		p, err := ListenPort(fl.Field().String())
		return err == nil && p >= MinReceiverPort
	})
	return validate
}

// LoadClient reads the client configuration from an optional YAML file at path and
// GPSCLIENT_* environment variables.
func LoadClient(path string) (*ClientConfig, error) {
	v := newViper("gpsclient", path)
	v.SetDefault("target.host", "")
	v.SetDefault("target.port", "")
	v.SetDefault("transport.connect_timeout", "0s")
	v.SetDefault("transport.write_timeout", "0s")
	v.SetDefault("session.tick_interval", "5s")
	v.SetDefault("session.max_write_errors", 0)
	v.SetDefault("session.device_label", "")
	v.SetDefault("session.source_id", "")
	v.SetDefault("location.interval", "30s")
	v.SetDefault("location.min_distance", 20.0)
	v.SetDefault("location.step", 40.0)
	v.SetDefault("location.start_latitude", 49.2827)
	v.SetDefault("location.start_longitude", -123.1207)
	v.SetDefault("location.seed", 1)
	v.SetDefault("monitoring.addr", "127.0.0.1:8090")
	v.SetDefault("monitoring.allowed_origins", []string{})
	v.SetDefault("event_node", 1)

	cfg := &ClientConfig{}
	if err := load(v, path, cfg); err != nil {
		return nil, err
	}
	if cfg.Session.DeviceLabel == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Session.DeviceLabel = h
		}
	}
	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadReceiver reads the receiver configuration from an optional YAML file at path and
// GPSSERVER_* environment variables.
func LoadReceiver(path string) (*ReceiverConfig, error) {
	v := newViper("gpsserver", path)
	v.SetDefault("listen.addr", DefaultReceiverAddr)
	v.SetDefault("listen.proxy_protocol", false)
	v.SetDefault("listen.join_label", false)
	v.SetDefault("listen.max_line_length", 1024)
	v.SetDefault("listen.idle_timeout", "0s")
	v.SetDefault("tunnel.addr", "")
	v.SetDefault("tunnel.token", "")
	v.SetDefault("tunnel.retry", "5s")
	v.SetDefault("store.file", "locations.json")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.postgres_table", "location")
	v.SetDefault("store.flush_interval", "5s")
	v.SetDefault("store.nats_url", "")
	v.SetDefault("store.nats_subject", "gps.location")
	v.SetDefault("store.log", true)
	v.SetDefault("web.addr", "")
	v.SetDefault("web.allowed_origins", []string{})

	cfg := &ReceiverConfig{}
	if err := load(v, path, cfg); err != nil {
		return nil, err
	}
	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

var errNoPort = errors.New("address has no port")

// ListenPort returns the numeric port of a host:port listen address.
func ListenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	if p == "" {
		return 0, errNoPort
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
