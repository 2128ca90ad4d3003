package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/chickenbot/internal/cron"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSubreddit         = "all"
	DefaultQuestion          = "why did the chicken cross the road"
	DefaultScanSchedule      = "@every 1h"
	DefaultInboxSchedule     = "@every 1m"
	DefaultUserCooldown      = "24h"
	DefaultUserRefresh       = "30m"
	DefaultCallTimeout       = "30s"
	DefaultShutdownGrace     = "15s"
	DefaultUserAgent         = "linux:chickenbot:v2.0 (by /u/chickenbot-operator)"
	DefaultAPIBaseURL        = "https://oauth.reddit.com"
	DefaultTokenURL          = "https://www.reddit.com/api/v1/access_token"
	DefaultRequestsPerMinute = 60
	DefaultBufSize           = 64

	DefaultResponsesFile = "responses.txt"
	DefaultBlacklistFile = "blacklist.txt"
	DefaultReplyLog      = "chickenbot_log.txt"
	DefaultForbiddenLog  = "forbidden_log.txt"
	DefaultErrorLog      = "error_log.txt"
	DefaultStateDB       = "state.db"
)

type Config struct {
	Reddit RedditConfig `json:"reddit" yaml:"reddit"`
	Bot    BotConfig    `json:"bot" yaml:"bot"`
	Paths  PathsConfig  `json:"paths" yaml:"paths"`
	Notify NotifyConfig `json:"notify" yaml:"notify"`
}

type RedditConfig struct {
	ClientID          string `json:"clientId" yaml:"clientId"`
	ClientSecret      string `json:"clientSecret" yaml:"clientSecret"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	UserAgent         string `json:"userAgent" yaml:"userAgent"`
	APIBaseURL        string `json:"apiBaseUrl,omitempty" yaml:"apiBaseUrl,omitempty"`
	TokenURL          string `json:"tokenUrl,omitempty" yaml:"tokenUrl,omitempty"`
	RequestsPerMinute int    `json:"requestsPerMinute,omitempty" yaml:"requestsPerMinute,omitempty"`
}

type BotConfig struct {
	Subreddit     string `json:"subreddit" yaml:"subreddit"`
	Question      string `json:"question" yaml:"question"`
	ScanSchedule  string `json:"scanSchedule" yaml:"scanSchedule"`
	InboxSchedule string `json:"inboxSchedule" yaml:"inboxSchedule"`
	UserCooldown  string `json:"userCooldown" yaml:"userCooldown"`
	UserRefresh   string `json:"userRefresh" yaml:"userRefresh"`
	CounterStart  int    `json:"counterStart" yaml:"counterStart"`
	CallTimeout   string `json:"callTimeout" yaml:"callTimeout"`
	ShutdownGrace string `json:"shutdownGrace" yaml:"shutdownGrace"`
}

// PathsConfig file names are resolved against Workspace unless absolute.
type PathsConfig struct {
	Workspace    string `json:"workspace" yaml:"workspace"`
	Responses    string `json:"responses,omitempty" yaml:"responses,omitempty"`
	Blacklist    string `json:"blacklist,omitempty" yaml:"blacklist,omitempty"`
	ReplyLog     string `json:"replyLog,omitempty" yaml:"replyLog,omitempty"`
	ForbiddenLog string `json:"forbiddenLog,omitempty" yaml:"forbiddenLog,omitempty"`
	ErrorLog     string `json:"errorLog,omitempty" yaml:"errorLog,omitempty"`
	StateDB      string `json:"stateDb,omitempty" yaml:"stateDb,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	ChatID  int64  `json:"chatId" yaml:"chatId"`
	Proxy   string `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// Error is a configuration problem detected before any worker starts.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func DefaultConfig() *Config {
	return &Config{
		Reddit: RedditConfig{
			UserAgent:         DefaultUserAgent,
			APIBaseURL:        DefaultAPIBaseURL,
			TokenURL:          DefaultTokenURL,
			RequestsPerMinute: DefaultRequestsPerMinute,
		},
		Bot: BotConfig{
			Subreddit:     DefaultSubreddit,
			Question:      DefaultQuestion,
			ScanSchedule:  DefaultScanSchedule,
			InboxSchedule: DefaultInboxSchedule,
			UserCooldown:  DefaultUserCooldown,
			UserRefresh:   DefaultUserRefresh,
			CallTimeout:   DefaultCallTimeout,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Paths: PathsConfig{
			Workspace: filepath.Join(ConfigDir(), "workspace"),
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".chickenbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads path (JSON, or YAML for .yaml/.yml), applies
// environment overrides and fills unset fields with defaults. A missing file
// yields the defaults.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHICKENBOT_CLIENT_ID"); v != "" {
		cfg.Reddit.ClientID = v
	}
	if v := os.Getenv("CHICKENBOT_CLIENT_SECRET"); v != "" {
		cfg.Reddit.ClientSecret = v
	}
	if v := os.Getenv("CHICKENBOT_USERNAME"); v != "" {
		cfg.Reddit.Username = v
	}
	if v := os.Getenv("CHICKENBOT_PASSWORD"); v != "" {
		cfg.Reddit.Password = v
	}
	if v := os.Getenv("CHICKENBOT_USER_AGENT"); v != "" {
		cfg.Reddit.UserAgent = v
	}
	if v := os.Getenv("CHICKENBOT_SUBREDDIT"); v != "" {
		cfg.Bot.Subreddit = v
	}
	if v := os.Getenv("CHICKENBOT_WORKSPACE"); v != "" {
		cfg.Paths.Workspace = v
	}
	if v := os.Getenv("CHICKENBOT_COUNTER_START"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Bot.CounterStart = parsed
		}
	}
	if v := os.Getenv("CHICKENBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.Token = v
	}
	if v := os.Getenv("CHICKENBOT_TELEGRAM_CHAT_ID"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
}

func fillDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Paths.Workspace == "" {
		cfg.Paths.Workspace = def.Paths.Workspace
	}
	if cfg.Reddit.UserAgent == "" {
		cfg.Reddit.UserAgent = DefaultUserAgent
	}
	if cfg.Reddit.APIBaseURL == "" {
		cfg.Reddit.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Reddit.TokenURL == "" {
		cfg.Reddit.TokenURL = DefaultTokenURL
	}
	if cfg.Reddit.RequestsPerMinute <= 0 {
		cfg.Reddit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Bot.Subreddit == "" {
		cfg.Bot.Subreddit = DefaultSubreddit
	}
	if strings.TrimSpace(cfg.Bot.Question) == "" {
		cfg.Bot.Question = DefaultQuestion
	}
	if cfg.Bot.ScanSchedule == "" {
		cfg.Bot.ScanSchedule = DefaultScanSchedule
	}
	if cfg.Bot.InboxSchedule == "" {
		cfg.Bot.InboxSchedule = DefaultInboxSchedule
	}
	if cfg.Bot.UserCooldown == "" {
		cfg.Bot.UserCooldown = DefaultUserCooldown
	}
	if cfg.Bot.UserRefresh == "" {
		cfg.Bot.UserRefresh = DefaultUserRefresh
	}
	if cfg.Bot.CallTimeout == "" {
		cfg.Bot.CallTimeout = DefaultCallTimeout
	}
	if cfg.Bot.ShutdownGrace == "" {
		cfg.Bot.ShutdownGrace = DefaultShutdownGrace
	}
}

// Durations holds the parsed time settings of BotConfig.
type Durations struct {
	UserCooldown  time.Duration
	UserRefresh   time.Duration
	CallTimeout   time.Duration
	ShutdownGrace time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"bot.userCooldown", c.Bot.UserCooldown, &d.UserCooldown},
		{"bot.userRefresh", c.Bot.UserRefresh, &d.UserRefresh},
		{"bot.callTimeout", c.Bot.CallTimeout, &d.CallTimeout},
		{"bot.shutdownGrace", c.Bot.ShutdownGrace, &d.ShutdownGrace},
	}
	for _, f := range fields {
		parsed, err := time.ParseDuration(f.value)
		if err != nil {
			return Durations{}, &Error{Field: f.name, Reason: err.Error()}
		}
		if parsed <= 0 {
			return Durations{}, &Error{Field: f.name, Reason: "must be positive"}
		}
		*f.dst = parsed
	}
	return d, nil
}

// Validate checks everything the bot needs before it starts.
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"reddit.clientId", c.Reddit.ClientID},
		{"reddit.clientSecret", c.Reddit.ClientSecret},
		{"reddit.username", c.Reddit.Username},
		{"reddit.password", c.Reddit.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &Error{Field: r.field, Reason: "not set"}
		}
	}
	if _, err := cron.Parse(c.Bot.ScanSchedule); err != nil {
		return &Error{Field: "bot.scanSchedule", Reason: err.Error()}
	}
	if _, err := cron.Parse(c.Bot.InboxSchedule); err != nil {
		return &Error{Field: "bot.inboxSchedule", Reason: err.Error()}
	}
	if _, err := c.Durations(); err != nil {
		return err
	}
	if c.Bot.CounterStart < 0 {
		return &Error{Field: "bot.counterStart", Reason: "must not be negative"}
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0) {
		return &Error{Field: "notify.telegram", Reason: "token and chatId are required when enabled"}
	}
	return nil
}

// Resolve returns name inside the workspace, or fallback when name is empty.
func (p PathsConfig) Resolve(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Workspace, name)
}

func (p PathsConfig) ResponsesPath() string    { return p.Resolve(p.Responses, DefaultResponsesFile) }
func (p PathsConfig) BlacklistPath() string    { return p.Resolve(p.Blacklist, DefaultBlacklistFile) }
func (p PathsConfig) ReplyLogPath() string     { return p.Resolve(p.ReplyLog, DefaultReplyLog) }
func (p PathsConfig) ForbiddenLogPath() string { return p.Resolve(p.ForbiddenLog, DefaultForbiddenLog) }
func (p PathsConfig) ErrorLogPath() string     { return p.Resolve(p.ErrorLog, DefaultErrorLog) }
func (p PathsConfig) StateDBPath() string      { return p.Resolve(p.StateDB, DefaultStateDB) }

func SaveConfig(cfg *Config) error {
	return SaveConfigTo(cfg, ConfigPath())
}

// SaveConfigTo writes cfg to path, as YAML for .yaml/.yml and JSON otherwise.
func SaveConfigTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
