package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazz-dev/canary/internal/logging"
	"github.com/hazz-dev/canary/internal/mail"
	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/storage"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	CronSecret      string   `yaml:"cron_secret"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RunnerConfig tunes the batch runner.
type RunnerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Runner        RunnerConfig
	Log           logging.Config
	Mail          mail.Config
	Users         []model.User
	Checks        []model.Check
	Notifications []model.NotificationPreference
	StatusPages   []model.StatusPage
}

// Fixtures returns the configured records that seed the store.
func (c *Config) Fixtures() storage.Fixtures {
	return storage.Fixtures{
		Users:         c.Users,
		Checks:        c.Checks,
		Notifications: c.Notifications,
		StatusPages:   c.StatusPages,
	}
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"mysql":    true,
	"postgres": true,
	"memory":   true,
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the environment value. A bare $ is left alone so
// URLs and passwords containing it survive.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// Load reads, expands ${VAR} references, parses, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a config document.
func Parse(data []byte) (*Config, error) {
	type rawCheck struct {
		ID             string `yaml:"id"`
		Owner          string `yaml:"owner"`
		Name           string `yaml:"name"`
		URL            string `yaml:"url"`
		Method         string `yaml:"method"`
		Interval       string `yaml:"interval"`
		Timeout        string `yaml:"timeout"`
		ExpectedStatus int    `yaml:"expected_status"`
		Enabled        *bool  `yaml:"enabled"`
	}
	type rawPreference struct {
		Owner   string `yaml:"owner"`
		Channel string `yaml:"channel"`
		Address string `yaml:"address"`
		Enabled *bool  `yaml:"enabled"`
	}
	type rawUser struct {
		ID    string `yaml:"id"`
		Email string `yaml:"email"`
	}
	type rawMail struct {
		Driver string `yaml:"driver"`
		From   string `yaml:"from"`
		SMTP   struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"smtp"`
		Resend struct {
			APIKey   string `yaml:"api_key"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"resend"`
	}
	type rawLog struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	}
	type rawStatusPage struct {
		Slug        string   `yaml:"slug"`
		Owner       string   `yaml:"owner"`
		Title       string   `yaml:"title"`
		Description string   `yaml:"description"`
		Checks      []string `yaml:"checks"`
		Enabled     *bool    `yaml:"enabled"`
	}
	type rawConfig struct {
		Server        ServerConfig    `yaml:"server"`
		Storage       StorageConfig   `yaml:"storage"`
		Runner        RunnerConfig    `yaml:"runner"`
		Log           rawLog          `yaml:"log"`
		Mail          rawMail         `yaml:"mail"`
		Users         []rawUser       `yaml:"users"`
		Checks        []rawCheck      `yaml:"checks"`
		Notifications []rawPreference `yaml:"notifications"`
		StatusPages   []rawStatusPage `yaml:"status_pages"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults.
	if raw.Server.Address == "" {
		raw.Server.Address = ":8080"
	}
	if raw.Server.ShutdownTimeout.Duration == 0 {
		raw.Server.ShutdownTimeout = Duration{10 * time.Second}
	}
	if raw.Storage.Driver == "" {
		raw.Storage.Driver = "sqlite"
	}
	if raw.Storage.DSN == "" && raw.Storage.Driver == "sqlite" {
		raw.Storage.DSN = "canary.db"
	}
	if raw.Runner.Concurrency == 0 {
		raw.Runner.Concurrency = 16
	}
	if raw.Mail.Driver == "" {
		raw.Mail.Driver = "log"
	}

	if !validDrivers[raw.Storage.Driver] {
		return nil, fmt.Errorf("storage: invalid driver %q (must be sqlite, mysql, postgres, or memory)", raw.Storage.Driver)
	}
	if raw.Storage.DSN == "" && raw.Storage.Driver != "memory" {
		return nil, fmt.Errorf("storage: dsn is required for driver %q", raw.Storage.Driver)
	}
	if raw.Runner.Concurrency < 0 {
		return nil, fmt.Errorf("runner: concurrency must be positive, got %d", raw.Runner.Concurrency)
	}
	switch raw.Mail.Driver {
	case "log", "smtp", "resend":
	default:
		return nil, fmt.Errorf("mail: invalid driver %q (must be log, smtp, or resend)", raw.Mail.Driver)
	}

	cfg := &Config{
		Server:  raw.Server,
		Storage: raw.Storage,
		Runner:  raw.Runner,
		Log:     logging.Config{Level: raw.Log.Level, Dir: raw.Log.Dir},
		Mail: mail.Config{
			Driver: raw.Mail.Driver,
			From:   raw.Mail.From,
			SMTP: mail.SMTPConfig{
				Host:     raw.Mail.SMTP.Host,
				Port:     raw.Mail.SMTP.Port,
				Username: raw.Mail.SMTP.Username,
				Password: raw.Mail.SMTP.Password,
			},
			Resend: mail.ResendConfig{
				APIKey:   raw.Mail.Resend.APIKey,
				Endpoint: raw.Mail.Resend.Endpoint,
			},
		},
	}

	userIDs := make(map[string]bool, len(raw.Users))
	for i, ru := range raw.Users {
		if ru.ID == "" {
			return nil, fmt.Errorf("user[%d]: id is required", i)
		}
		if userIDs[ru.ID] {
			return nil, fmt.Errorf("duplicate user id %q", ru.ID)
		}
		userIDs[ru.ID] = true
		cfg.Users = append(cfg.Users, model.User{ID: ru.ID, Email: ru.Email})
	}

	ids := make(map[string]bool, len(raw.Checks))
	for i, rc := range raw.Checks {
		if rc.ID == "" {
			return nil, fmt.Errorf("check[%d]: id is required", i)
		}
		if ids[rc.ID] {
			return nil, fmt.Errorf("duplicate check id %q", rc.ID)
		}
		ids[rc.ID] = true

		c := model.Check{
			ID:             rc.ID,
			OwnerID:        rc.Owner,
			Name:           rc.Name,
			URL:            rc.URL,
			Method:         rc.Method,
			ExpectedStatus: rc.ExpectedStatus,
			Enabled:        rc.Enabled == nil || *rc.Enabled,
			LastStatus:     model.StatusUnknown,
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		if c.Method == "" {
			c.Method = "GET"
		}

		// Parse interval with default.
		interval := 60 * time.Second
		if rc.Interval != "" {
			d, err := time.ParseDuration(rc.Interval)
			if err != nil {
				return nil, fmt.Errorf("check %q: invalid interval %q: %w", rc.ID, rc.Interval, err)
			}
			if d%time.Second != 0 {
				return nil, fmt.Errorf("check %q: interval %q must be whole seconds", rc.ID, rc.Interval)
			}
			interval = d
		}
		c.IntervalSeconds = int(interval / time.Second)

		// Parse timeout with default.
		timeout := 10 * time.Second
		if rc.Timeout != "" {
			d, err := time.ParseDuration(rc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("check %q: invalid timeout %q: %w", rc.ID, rc.Timeout, err)
			}
			timeout = d
		}
		c.TimeoutMs = int(timeout.Milliseconds())

		if err := c.Validate(); err != nil {
			return nil, err
		}
		cfg.Checks = append(cfg.Checks, c)
	}

	for i, rp := range raw.Notifications {
		if rp.Owner == "" {
			return nil, fmt.Errorf("notification[%d]: owner is required", i)
		}
		if rp.Address == "" {
			return nil, fmt.Errorf("notification[%d]: address is required", i)
		}
		channel := rp.Channel
		if channel == "" {
			channel = model.ChannelEmail
		}
		if channel != model.ChannelEmail {
			return nil, fmt.Errorf("notification[%d]: unsupported channel %q", i, channel)
		}
		cfg.Notifications = append(cfg.Notifications, model.NotificationPreference{
			OwnerID: rp.Owner,
			Channel: channel,
			Address: rp.Address,
			Enabled: rp.Enabled == nil || *rp.Enabled,
		})
	}

	slugs := make(map[string]bool, len(raw.StatusPages))
	for i, rs := range raw.StatusPages {
		p := model.StatusPage{
			Slug:        rs.Slug,
			OwnerID:     rs.Owner,
			Title:       rs.Title,
			Description: rs.Description,
			Enabled:     rs.Enabled == nil || *rs.Enabled,
			CheckIDs:    rs.Checks,
		}
		if p.OwnerID == "" {
			return nil, fmt.Errorf("status_page[%d]: owner is required", i)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if slugs[p.Slug] {
			return nil, fmt.Errorf("duplicate status page slug %q", p.Slug)
		}
		slugs[p.Slug] = true
		for _, id := range p.CheckIDs {
			if !ids[id] {
				return nil, fmt.Errorf("status page %q: unknown check %q", p.Slug, id)
			}
		}
		cfg.StatusPages = append(cfg.StatusPages, p)
	}

	return cfg, nil
}
