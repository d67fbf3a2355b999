package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DownloadDir string `yaml:"download_dir"`
	SiteBase    string `yaml:"site_base"`
	UserAgent   string `yaml:"user_agent"`
	Debug       bool   `yaml:"debug"`

	AllowExt   []string `yaml:"allow_ext"`
	AdPatterns []string `yaml:"ad_patterns"`

	BotToken    string `yaml:"bot_token"`
	AdminChatID int64  `yaml:"admin_chat_id"`

	BigModeMaxChapters int `yaml:"big_mode_max_chapters"`
	InlineLimitMB      int `yaml:"inline_limit_mb"`
	SessionTTLMinutes  int `yaml:"session_ttl_minutes"`
	SweepMinutes       int `yaml:"sweep_minutes"`
	DeleteDelaySeconds int `yaml:"delete_delay_seconds"`
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`
}

type Options struct {
	IgnoreConfig bool
	Debug        bool
	DownloadDir  string
	SiteBase     string
	UserAgent    string
	BotToken     string
	AdminChatID  int64
}

func DefaultConfig() *Config {
	return &Config{
		DownloadDir:        "downloads",
		SiteBase:           "https://komiku.org",
		UserAgent:          "",
		Debug:              false,
		AllowExt:           []string{"jpg", "jpeg", "png", "webp"},
		AdPatterns:         []string{"komikuplus", "asset/img"},
		BigModeMaxChapters: 3,
		InlineLimitMB:      50,
		SessionTTLMinutes:  60,
		SweepMinutes:       30,
		DeleteDelaySeconds: 10,
		HTTPTimeoutSeconds: 30,
	}
}

func ConfigRoot() string {
	// Windows
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		return filepath.Join(appdata, "komikbot")
	}

	// Linux/macOS XDG
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "komikbot")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "komikbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigRoot(), "config.yaml")
}

func SaveYAML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

// LoadMerged resolves the effective config: file values when present,
// overridden by CLI flags, then by environment (BOT_TOKEN, ADMIN_CHAT_ID).
func LoadMerged(opts Options) (*Config, string, error) {
	cfg := DefaultConfig()
	usedPath := "(default config in memory)\nRun `komikbot config init` to create an actual config\n"

	if !opts.IgnoreConfig {
		path := ConfigPath()
		if _, err := os.Stat(path); err == nil {
			loaded, err := loadYAML(path)
			if err != nil {
				return nil, "", fmt.Errorf("failed to load config %s: %w", path, err)
			}
			cfg = loaded
			usedPath = path
		}
	}

	mergeConfig(cfg, opts)
	mergeEnv(cfg)
	normalizeDefaults(cfg)

	return cfg, usedPath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Debug {
		c.Debug = true
	}
	if o.DownloadDir != "" {
		c.DownloadDir = o.DownloadDir
	}
	if o.SiteBase != "" {
		c.SiteBase = o.SiteBase
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.BotToken != "" {
		c.BotToken = o.BotToken
	}
	if o.AdminChatID != 0 {
		c.AdminChatID = o.AdminChatID
	}
}

func mergeEnv(c *Config) {
	if tok := os.Getenv("BOT_TOKEN"); tok != "" {
		c.BotToken = tok
	}
	if admin := os.Getenv("ADMIN_CHAT_ID"); admin != "" {
		var id int64
		if _, err := fmt.Sscanf(admin, "%d", &id); err == nil {
			c.AdminChatID = id
		}
	}
}

func normalizeDefaults(c *Config) {
	def := DefaultConfig()

	if c.DownloadDir == "" {
		c.DownloadDir = def.DownloadDir
	}
	if c.SiteBase == "" {
		c.SiteBase = def.SiteBase
	}
	c.SiteBase = strings.TrimRight(c.SiteBase, "/")

	if len(c.AllowExt) == 0 {
		c.AllowExt = def.AllowExt
	}
	if len(c.AdPatterns) == 0 {
		c.AdPatterns = def.AdPatterns
	}
	if c.BigModeMaxChapters <= 0 {
		c.BigModeMaxChapters = def.BigModeMaxChapters
	}
	if c.InlineLimitMB <= 0 {
		c.InlineLimitMB = def.InlineLimitMB
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = def.SessionTTLMinutes
	}
	if c.SweepMinutes <= 0 {
		c.SweepMinutes = def.SweepMinutes
	}
	if c.DeleteDelaySeconds <= 0 {
		c.DeleteDelaySeconds = def.DeleteDelaySeconds
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = def.HTTPTimeoutSeconds
	}
}

func (c *Config) Print() {
	fmt.Printf("  download_dir:    %s\n", c.DownloadDir)
	fmt.Printf("  site_base:       %s\n", c.SiteBase)
	fmt.Printf("  debug:           %v\n", c.Debug)
	fmt.Printf("  allow_ext:       %s\n", strings.Join(c.AllowExt, "|"))
	fmt.Printf("  ad_patterns:     %s\n", strings.Join(c.AdPatterns, "|"))
	fmt.Printf("  bot_token:       %s\n", maskToken(c.BotToken))
	fmt.Printf("  admin_chat_id:   %d\n", c.AdminChatID)
	fmt.Printf("  big_mode_max:    %d chapters\n", c.BigModeMaxChapters)
	fmt.Printf("  inline_limit:    %dMB\n", c.InlineLimitMB)
	fmt.Printf("  session_ttl:     %dm\n", c.SessionTTLMinutes)
}

func maskToken(tok string) string {
	if tok == "" {
		return "(not set)"
	}
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}
