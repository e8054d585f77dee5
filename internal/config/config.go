package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Режимы проверки игроков при входе
const (
	AuthOffline  = "offline"
	AuthPassword = "password"
	AuthToken    = "token"
)

// DefaultProtocolVersion - номер версии протокола 1.21.1
const DefaultProtocolVersion = 767

// Config корневая структура конфигурации сервера
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	World    WorldConfig    `yaml:"world"`
	Admin    AdminConfig    `yaml:"admin"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port                    int      `yaml:"port"`
	MaxPlayers              int      `yaml:"max_players"`
	ViewDistance            int      `yaml:"view_distance"`
	MOTD                    string   `yaml:"motd"`
	WhitelistEnabled        bool     `yaml:"whitelist_enabled"`
	Whitelist               []string `yaml:"whitelist"`
	ProtocolVersion         int      `yaml:"protocol_version"`
	CompressionThreshold    int      `yaml:"compression_threshold"` // < 0 отключает сжатие
	KeepAliveTimeoutSeconds int      `yaml:"keepalive_timeout_seconds"`
	OnlineAuth              string   `yaml:"online_auth"`
	TokenSecret             string   `yaml:"token_secret"`
	UsersFile               string   `yaml:"users_file"`
}

type WorldConfig struct {
	Dir           string `yaml:"dir"`
	Seed          int64  `yaml:"seed"`
	TickMS        int    `yaml:"tick_ms"`
	AutosaveTicks int    `yaml:"autosave_ticks"`
	EvictGraceMS  int    `yaml:"evict_grace_ms"`
	Compression   string `yaml:"compression"` // gzip | zlib | none | zstd
}

type AdminConfig struct {
	Listen string `yaml:"listen"` // пусто - админ API выключен
}

type EventBusConfig struct {
	URL    string `yaml:"url"` // пусто - шина в памяти
	Stream string `yaml:"stream"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                    25565,
			MaxPlayers:              20,
			ViewDistance:            8,
			MOTD:                    "A Blockverse Server",
			ProtocolVersion:         DefaultProtocolVersion,
			CompressionThreshold:    256,
			KeepAliveTimeoutSeconds: 30,
			OnlineAuth:              AuthOffline,
		},
		World: WorldConfig{
			Dir:           "world",
			TickMS:        50,
			AutosaveTicks: 6000,
			EvictGraceMS:  2000,
			Compression:   "zlib",
		},
		EventBus: EventBusConfig{
			Stream: "BLOCKVERSE",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetPort возвращает игровой порт с поддержкой fallback значений
func (s *ServerConfig) GetPort() int {
	return getPortWithEnvFallback(s.Port, "GAME_PORT", 25565)
}

// KeepAliveTimeout возвращает таймаут keepalive как time.Duration
func (s *ServerConfig) KeepAliveTimeout() time.Duration {
	return time.Duration(s.KeepAliveTimeoutSeconds) * time.Second
}

// TickInterval возвращает период тика
func (w *WorldConfig) TickInterval() time.Duration {
	return time.Duration(w.TickMS) * time.Millisecond
}

// EvictGrace возвращает задержку выгрузки чанка
func (w *WorldConfig) EvictGrace() time.Duration {
	return time.Duration(w.EvictGraceMS) * time.Millisecond
}

// GetListen возвращает адрес админ API: config -> env -> пусто
func (a *AdminConfig) GetListen() string {
	if a.Listen != "" {
		return a.Listen
	}
	return os.Getenv("GAME_ADMIN_LISTEN")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Validate проверяет значения конфигурации
func (c *Config) Validate() error {
	var errs []error

	if c.Server.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("server.max_players must be positive, got %d", c.Server.MaxPlayers))
	}
	if c.Server.ViewDistance < 2 || c.Server.ViewDistance > 32 {
		errs = append(errs, fmt.Errorf("server.view_distance must be in [2, 32], got %d", c.Server.ViewDistance))
	}
	if c.Server.ProtocolVersion <= 0 {
		errs = append(errs, fmt.Errorf("server.protocol_version must be positive, got %d", c.Server.ProtocolVersion))
	}
	if c.Server.KeepAliveTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("server.keepalive_timeout_seconds must be positive"))
	}
	switch c.Server.OnlineAuth {
	case AuthOffline, AuthPassword:
	case AuthToken:
		if c.Server.TokenSecret == "" {
			errs = append(errs, errors.New("server.token_secret is required for token auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.online_auth: unknown mode %q", c.Server.OnlineAuth))
	}
	if c.World.Dir == "" {
		errs = append(errs, errors.New("world.dir is required"))
	}
	if c.World.TickMS <= 0 {
		errs = append(errs, fmt.Errorf("world.tick_ms must be positive, got %d", c.World.TickMS))
	}
	if c.World.AutosaveTicks < 0 || c.World.EvictGraceMS < 0 {
		errs = append(errs, errors.New("world.autosave_ticks and world.evict_grace_ms must not be negative"))
	}
	switch strings.ToLower(c.World.Compression) {
	case "gzip", "zlib", "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("world.compression: unknown scheme %q", c.World.Compression))
	}

	return errors.Join(errs...)
}

// Source - источник конфигурации
type Source interface {
	Load() (*Config, error)
}

// FileSource читает YAML файл поверх значений по умолчанию
type FileSource struct {
	Path string
}

// Load реализует Source
func (f FileSource) Load() (*Config, error) {
	return Load(f.Path)
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", пытается прочитать из ENV GAME_CONFIG; если и он пуст,
// возвращает значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GAME_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Server.Port = cfg.Server.GetPort()
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
