// Package config turns viper state into typed settings so that the rest of
// the program never reads viper keys directly.
package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sw33tLie/pbxsched/internal/utils"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/orchestrator"
)

type Config struct {
	HostingDomain string
	DataDir       string
	DBPath        string

	Browser   BrowserConfig
	Sync      SyncConfig
	Scrape    ScrapeConfig
	Server    ServerConfig
	Instances []InstanceConfig
}

// BrowserConfig durations are Go duration strings in the file ("30s").
type BrowserConfig struct {
	Headless       bool
	InstallDriver  bool
	NavTimeout     time.Duration
	URLWaitTimeout time.Duration
}

type SyncConfig struct {
	Timeout     time.Duration
	Cooldown    time.Duration
	Concurrency int
}

type ScrapeConfig struct {
	// RequestsPerSecond limits detail page navigation. 0 disables the limit.
	RequestsPerSecond float64
}

type ServerConfig struct {
	Listen   string
	Username string
	Password string
	// SyncCron schedules syncs of every configured instance, e.g. "@hourly".
	// Empty disables scheduled syncs.
	SyncCron string
}

type InstanceConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DisplayName string `mapstructure:"display_name"`
	OTPSecret   string `mapstructure:"otp_secret"`
}

func (i InstanceConfig) Registration() instance.Registration {
	return instance.Registration{
		BaseURL:     i.URL,
		Username:    i.Username,
		Password:    i.Password,
		DisplayName: i.DisplayName,
		OTPSecret:   i.OTPSecret,
	}
}

// SetDefaults registers every key with its default so that a freshly
// written config file lists them all.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("hosting_domain", instance.DefaultHostingDomain)
	v.SetDefault("data_dir", "")
	v.SetDefault("db_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.install_driver", false)
	v.SetDefault("browser.nav_timeout", "30s")
	v.SetDefault("browser.url_wait_timeout", "20s")
	v.SetDefault("sync.timeout", orchestrator.DefaultTimeout.String())
	v.SetDefault("sync.cooldown", orchestrator.DefaultCooldown.String())
	v.SetDefault("sync.concurrency", 2)
	v.SetDefault("scrape.requests_per_second", 2.0)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.sync_cron", "")
	v.SetDefault("instances", []map[string]string{})
}

func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		HostingDomain: strings.TrimSpace(v.GetString("hosting_domain")),
		DataDir:       strings.TrimSpace(v.GetString("data_dir")),
		DBPath:        strings.TrimSpace(v.GetString("db_path")),
		Browser: BrowserConfig{
			Headless:       v.GetBool("browser.headless"),
			InstallDriver:  v.GetBool("browser.install_driver"),
			NavTimeout:     v.GetDuration("browser.nav_timeout"),
			URLWaitTimeout: v.GetDuration("browser.url_wait_timeout"),
		},
		Sync: SyncConfig{
			Timeout:     v.GetDuration("sync.timeout"),
			Cooldown:    v.GetDuration("sync.cooldown"),
			Concurrency: v.GetInt("sync.concurrency"),
		},
		Scrape: ScrapeConfig{RequestsPerSecond: v.GetFloat64("scrape.requests_per_second")},
		Server: ServerConfig{
			Listen:   v.GetString("server.listen"),
			Username: v.GetString("server.username"),
			Password: v.GetString("server.password"),
			SyncCron: strings.TrimSpace(v.GetString("server.sync_cron")),
		},
	}
	if err := v.UnmarshalKey("instances", &c.Instances); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeValidation, "instances must be a list of url/username/password entries")
	}

	if c.HostingDomain == "" {
		c.HostingDomain = instance.DefaultHostingDomain
	}
	if c.DataDir == "" {
		dir, err := utils.DefaultDataDir()
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "could not resolve the data directory")
		}
		c.DataDir = dir
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "pbxsched.sqlite")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	ve := apperrors.NewValidationError("invalid configuration")
	if c.Browser.NavTimeout <= 0 {
		ve.AddField("browser.nav_timeout", "must be a positive duration", c.Browser.NavTimeout.String())
	}
	if c.Browser.URLWaitTimeout <= 0 {
		ve.AddField("browser.url_wait_timeout", "must be a positive duration", c.Browser.URLWaitTimeout.String())
	}
	if c.Sync.Timeout <= 0 {
		ve.AddField("sync.timeout", "must be a positive duration", c.Sync.Timeout.String())
	}
	if c.Sync.Cooldown < 0 {
		ve.AddField("sync.cooldown", "must not be negative", c.Sync.Cooldown.String())
	}
	if c.Scrape.RequestsPerSecond < 0 {
		ve.AddField("scrape.requests_per_second", "must not be negative", c.Scrape.RequestsPerSecond)
	}
	for i, inst := range c.Instances {
		if strings.TrimSpace(inst.URL) == "" {
			ve.AddField("instances["+strconv.Itoa(i)+"].url", "required", nil)
		}
	}
	if ve.HasFields() {
		return ve
	}
	return nil
}

// SessionDir holds one storage state file per instance.
func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "sessions")
}
