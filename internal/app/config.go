package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"termpost/internal/compose"
)

// draft store backends
const (
	DraftsSQLite = "sqlite"
	DraftsPebble = "pebble"
	DraftsMemory = "memory"
)

// Config is the whole termpost configuration file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	Path           string  `yaml:"path"`
	DBPath         string  `yaml:"db_path"`
	UploadDir      string  `yaml:"upload_dir"`
	MaxFileSize    int64   `yaml:"max_file_size"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	User      string `yaml:"user"`
	Channel   string `yaml:"channel"`
	Timezone  string `yaml:"timezone"`
	LogFile   string `yaml:"log_file"`

	DraftsBackend  string        `yaml:"drafts_backend"`
	DraftsPath     string        `yaml:"drafts_path"`
	DraftSaveDelay time.Duration `yaml:"draft_save_delay"`

	NotifyAllMembers     int    `yaml:"notify_all_members"`
	MaxPostSize          int    `yaml:"max_post_size"`
	CtrlSend             bool   `yaml:"ctrl_send"`
	CodeBlockOnCtrlEnter bool   `yaml:"code_block_on_ctrl_enter"`
	Locale               string `yaml:"locale"`

	// mention permissions and the large-audience confirmation
	UseChannelMentions            bool `yaml:"use_channel_mentions"`
	UseGroupMentions              bool `yaml:"use_group_mentions"`
	ConfirmNotificationsToChannel bool `yaml:"confirm_notifications_to_channel"`
	TimezonesEnabled              bool `yaml:"timezones_enabled"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	settings := compose.DefaultSettings("")
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			Path:        "/join",
			MaxFileSize: 10 * 1024 * 1024,
		},
		Client: ClientConfig{
			ServerURL:        "ws://localhost:8080/join",
			DraftsBackend:    DraftsSQLite,
			DraftSaveDelay:   500 * time.Millisecond,
			NotifyAllMembers: settings.NotifyAllMembers,
			MaxPostSize:      settings.MaxPostSize,
			Locale:           settings.Locale,

			UseChannelMentions:            settings.UseChannelMentions,
			UseGroupMentions:              settings.UseGroupMentions,
			ConfirmNotificationsToChannel: settings.ConfirmNotificationsToChannel,
			TimezonesEnabled:              settings.TimezonesEnabled,
		},
	}
}

// LoadConfig reads defaults, then the YAML file at path, then the
// environment. envFiles are loaded into the environment first without
// overriding variables that are already set. A missing file is only an
// error when path was given explicitly.
func LoadConfig(path string, explicit bool, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.normalize()
}

// DefaultConfigPath is <data dir>/config.yaml, or TERMPOST_CONFIG.
func DefaultConfigPath() string {
	if env := os.Getenv("TERMPOST_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(DataDir(), "config.yaml")
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"TERMPOST_ADDR":           &c.Server.Addr,
		"TERMPOST_PATH":           &c.Server.Path,
		"TERMPOST_DB_PATH":        &c.Server.DBPath,
		"TERMPOST_UPLOAD_DIR":     &c.Server.UploadDir,
		"TERMPOST_SERVER":         &c.Client.ServerURL,
		"TERMPOST_USER":           &c.Client.User,
		"TERMPOST_CHANNEL":        &c.Client.Channel,
		"TERMPOST_TZ":             &c.Client.Timezone,
		"TERMPOST_LOG_FILE":       &c.Client.LogFile,
		"TERMPOST_DRAFTS_BACKEND": &c.Client.DraftsBackend,
		"TERMPOST_DRAFTS_PATH":    &c.Client.DraftsPath,
		"TERMPOST_LOCALE":         &c.Client.Locale,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TERMPOST_RATE_LIMIT_BURST":   &c.Server.RateLimitBurst,
		"TERMPOST_NOTIFY_ALL_MEMBERS": &c.Client.NotifyAllMembers,
		"TERMPOST_MAX_POST_SIZE":      &c.Client.MaxPostSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("TERMPOST_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TERMPOST_MAX_FILE_SIZE: %w", err)
		}
		c.Server.MaxFileSize = n
	}
	if v := os.Getenv("TERMPOST_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TERMPOST_RATE_LIMIT_RPS: %w", err)
		}
		c.Server.RateLimitRPS = f
	}
	if v := os.Getenv("TERMPOST_DRAFT_SAVE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TERMPOST_DRAFT_SAVE_DELAY: %w", err)
		}
		c.Client.DraftSaveDelay = d
	}

	bools := map[string]*bool{
		"TERMPOST_CTRL_SEND":                &c.Client.CtrlSend,
		"TERMPOST_CODE_BLOCK_ON_CTRL_ENTER": &c.Client.CodeBlockOnCtrlEnter,
		"TERMPOST_USE_CHANNEL_MENTIONS":     &c.Client.UseChannelMentions,
		"TERMPOST_USE_GROUP_MENTIONS":       &c.Client.UseGroupMentions,
		"TERMPOST_CONFIRM_NOTIFICATIONS":    &c.Client.ConfirmNotificationsToChannel,
		"TERMPOST_TIMEZONES_ENABLED":        &c.Client.TimezonesEnabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

func (c *Config) normalize() error {
	c.Server.Path = NormalizeJoinPath(c.Server.Path)
	if c.Server.DBPath == "" {
		c.Server.DBPath = DefaultDBPath()
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = DefaultUploadDir()
	}
	switch c.Client.DraftsBackend {
	case "":
		c.Client.DraftsBackend = DraftsSQLite
	case DraftsSQLite, DraftsPebble, DraftsMemory:
	default:
		return fmt.Errorf("unknown drafts backend %q", c.Client.DraftsBackend)
	}
	if c.Client.DraftsPath == "" {
		c.Client.DraftsPath = DefaultDraftsPath(c.Client.DraftsBackend)
	}
	if c.Client.LogFile == "" {
		c.Client.LogFile = filepath.Join(DataDir(), "termpost.log")
	}
	if c.Client.Timezone == "" {
		c.Client.Timezone = time.Local.String()
	}
	return nil
}

// ComposeSettings maps the client config onto composer settings for user.
func (c ClientConfig) ComposeSettings(user string) compose.Settings {
	s := compose.DefaultSettings(user)
	if c.NotifyAllMembers > 0 {
		s.NotifyAllMembers = c.NotifyAllMembers
	}
	if c.MaxPostSize > 0 {
		s.MaxPostSize = c.MaxPostSize
	}
	if c.Locale != "" {
		s.Locale = c.Locale
	}
	s.Send = compose.SendPreferences{CtrlSend: c.CtrlSend, CodeBlockOnCtrlEnter: c.CodeBlockOnCtrlEnter}
	s.UseChannelMentions = c.UseChannelMentions
	s.UseGroupMentions = c.UseGroupMentions
	s.ConfirmNotificationsToChannel = c.ConfirmNotificationsToChannel
	s.TimezonesEnabled = c.TimezonesEnabled
	return s
}

// DataDir is the per-user directory for databases, uploads and logs.
func DataDir() string {
	if env := os.Getenv("TERMPOST_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "termpost")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Termpost")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Termpost")
		}
		return filepath.Join(home, ".local", "share", "termpost")
	}
	return filepath.Join(".", ".termpost")
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "termpost.db")
}

func DefaultUploadDir() string {
	return filepath.Join(DataDir(), "uploads")
}

// DefaultDraftsPath is where the client keeps drafts for backend.
func DefaultDraftsPath(backend string) string {
	if backend == DraftsPebble {
		return filepath.Join(DataDir(), "drafts.pebble")
	}
	return filepath.Join(DataDir(), "drafts.db")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
