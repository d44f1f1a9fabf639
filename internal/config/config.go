package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/t77yq/crisiswatch/internal/model"
)

// Config holds all service configuration.
type Config struct {
	App AppConfig

	// Decision thresholds
	AlertThreshold      int
	LearningSeverityMin int

	Retry      RetryConfig
	Delivery   DeliveryConfig
	RateLimit  RateLimitConfig
	Channels   map[model.Channel]ChannelConfig
	Escalation EscalationConfig

	NATS      NATSConfig
	Collector CollectorConfig
	Monitor   MonitorConfig
	History   HistoryConfig
	HTTP      HTTPConfig
	Reasoning ReasoningConfig
	Logger    LoggerConfig

	Campaigns  []CampaignConfig
	Recipients []model.RecipientProfile
}

// AppConfig identifies the running service
type AppConfig struct {
	Name string
}

// RetryConfig controls per-channel retries
type RetryConfig struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DeliveryConfig controls route delivery
type DeliveryConfig struct {
	SendTimeout       time.Duration
	MaxParallelRoutes int
}

// ProviderLimit is a token bucket setting for one downstream provider
type ProviderLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// RateLimitConfig holds the default bucket and per-provider overrides
type RateLimitConfig struct {
	Default   ProviderLimit
	Providers map[string]ProviderLimit
}

// ChannelConfig is one row of the channel capability table
type ChannelConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ProviderID string `mapstructure:"provider_id"`

	// email
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`

	// sms / voice
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`

	// chat
	WebhookURL string `mapstructure:"webhook_url"`
	Format     string `mapstructure:"format"`
}

// EscalationConfig holds escalation defaults
type EscalationConfig struct {
	HighDelayMinutes     int
	CriticalDelayMinutes int
	RecipientID          string
}

// NATSConfig is the configuration for the NATS connection
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// CollectorConfig controls the mention buffer
type CollectorConfig struct {
	Retention time.Duration
}

// MonitorConfig controls scheduled scans
type MonitorConfig struct {
	Lookback       time.Duration
	HealthInterval time.Duration
}

// HistoryConfig is the configuration for the delivery history store
type HistoryConfig struct {
	DBPath    string
	Retention time.Duration
}

// HTTPConfig is the configuration for the query API
type HTTPConfig struct {
	Addr string
	Mode string
}

// ReasoningConfig is the configuration for the text-completion capability
type ReasoningConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

// LoggerConfig is the configuration for the logger
type LoggerConfig struct {
	Level string
	Mode  string
}

// CampaignConfig is a monitored campaign and its scan schedule
type CampaignConfig struct {
	ID             string   `mapstructure:"id"`
	OrganizationID string   `mapstructure:"organization_id"`
	CandidateName  string   `mapstructure:"candidate_name"`
	KeyIssues      []string `mapstructure:"key_issues"`
	Keywords       []string `mapstructure:"keywords"`
	Schedule       string   `mapstructure:"schedule"`
}

// Context converts the campaign into the pipeline's campaign context
func (c CampaignConfig) Context() model.CampaignContext {
	return model.CampaignContext{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		CandidateName:  c.CandidateName,
		KeyIssues:      c.KeyIssues,
		Keywords:       c.Keywords,
	}
}

// ConfigPathEnv names an explicit config file that overrides the search paths
const ConfigPathEnv = "CRISISWATCH_CONFIG"

// Load reads config.yaml from the standard search paths, or the file named by CRISISWATCH_CONFIG
func Load() (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return LoadFile(path)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/crisiswatch/")
	return load(v)
}

// LoadFile reads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Environment overrides, e.g. CRISISWATCH_RETRY_MAX_ATTEMPTS
	v.SetEnvPrefix("crisiswatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.App.Name = v.GetString("app.name")

	cfg.AlertThreshold = v.GetInt("alert_threshold")
	cfg.LearningSeverityMin = v.GetInt("learning_severity_min")

	// Retry
	cfg.Retry.MaxAttempts = v.GetInt("retry.max_attempts")
	backoff, err := parseBackoff(v.Get("retry.backoff_seconds"))
	if err != nil {
		return nil, err
	}
	cfg.Retry.Backoff = backoff

	// Delivery
	cfg.Delivery.SendTimeout = v.GetDuration("delivery.send_timeout")
	cfg.Delivery.MaxParallelRoutes = v.GetInt("delivery.max_parallel_routes")

	// Rate limits
	cfg.RateLimit.Default.PerSecond = v.GetFloat64("rate_limit.per_second")
	cfg.RateLimit.Default.Burst = v.GetInt("rate_limit.burst")
	cfg.RateLimit.Providers = make(map[string]ProviderLimit)
	if err := v.UnmarshalKey("rate_limit.providers", &cfg.RateLimit.Providers); err != nil {
		return nil, fmt.Errorf("%w: rate_limit.providers: %v", ErrInvalidConfig, err)
	}

	// Channels
	cfg.Channels = make(map[model.Channel]ChannelConfig, len(model.AllChannels))
	for _, ch := range model.AllChannels {
		var cc ChannelConfig
		if err := v.UnmarshalKey("channels."+string(ch), &cc); err != nil {
			return nil, fmt.Errorf("%w: channels.%s: %v", ErrInvalidConfig, ch, err)
		}
		cc.Enabled = v.GetBool("channels." + string(ch) + ".enabled")
		if ch == model.ChannelEmail {
			cc.SMTPPort = v.GetInt("channels.email.smtp_port")
		}
		if cc.ProviderID == "" {
			cc.ProviderID = string(ch)
		}
		cfg.Channels[ch] = cc
	}

	// Escalation
	cfg.Escalation.HighDelayMinutes = v.GetInt("escalation.high_delay_minutes")
	cfg.Escalation.CriticalDelayMinutes = v.GetInt("escalation.critical_delay_minutes")
	cfg.Escalation.RecipientID = v.GetString("escalation.recipient_id")

	// NATS
	cfg.NATS.URL = v.GetString("nats.url")
	cfg.NATS.MaxReconnects = v.GetInt("nats.max_reconnects")
	cfg.NATS.ReconnectWait = v.GetDuration("nats.reconnect_wait")
	cfg.NATS.ConnectTimeout = v.GetDuration("nats.connect_timeout")

	// Collector and monitor
	cfg.Collector.Retention = v.GetDuration("collector.retention")
	cfg.Monitor.Lookback = v.GetDuration("monitor.lookback")
	cfg.Monitor.HealthInterval = v.GetDuration("monitor.health_interval")

	// History
	cfg.History.DBPath = v.GetString("history.db_path")
	cfg.History.Retention = v.GetDuration("history.retention")

	// HTTP
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.HTTP.Mode = v.GetString("http.mode")

	// Reasoning
	cfg.Reasoning.Enabled = v.GetBool("reasoning.enabled")
	cfg.Reasoning.APIKey = v.GetString("reasoning.api_key")
	cfg.Reasoning.Model = v.GetString("reasoning.model")

	// Logger
	cfg.Logger.Level = v.GetString("logger.level")
	cfg.Logger.Mode = v.GetString("logger.mode")

	if err := v.UnmarshalKey("campaigns", &cfg.Campaigns); err != nil {
		return nil, fmt.Errorf("%w: campaigns: %v", ErrInvalidConfig, err)
	}
	if err := v.UnmarshalKey("recipients", &cfg.Recipients); err != nil {
		return nil, fmt.Errorf("%w: recipients: %v", ErrInvalidConfig, err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crisiswatch")

	v.SetDefault("alert_threshold", 4)
	v.SetDefault("learning_severity_min", 7)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_seconds", []float64{1, 2, 4})

	v.SetDefault("delivery.send_timeout", 10*time.Second)
	v.SetDefault("delivery.max_parallel_routes", 4)

	v.SetDefault("rate_limit.per_second", 5)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("channels.email.smtp_port", 587)

	v.SetDefault("escalation.high_delay_minutes", 15)
	v.SetDefault("escalation.critical_delay_minutes", 5)
	v.SetDefault("escalation.recipient_id", "")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("collector.retention", 24*time.Hour)
	v.SetDefault("monitor.lookback", time.Hour)
	v.SetDefault("monitor.health_interval", 15*time.Second)

	v.SetDefault("history.db_path", "crisiswatch.db")
	v.SetDefault("history.retention", 720*time.Hour)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.mode", "release")

	v.SetDefault("reasoning.enabled", false)
	v.SetDefault("reasoning.model", "gemini-1.5-flash")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mode", "development")
}

// parseBackoff accepts a list of seconds (numbers or numeric strings) or a comma separated string
func parseBackoff(raw interface{}) ([]time.Duration, error) {
	var items []interface{}
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case []float64:
		for _, f := range val {
			items = append(items, f)
		}
	case string:
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		list, err := cast.ToSliceE(val)
		if err != nil {
			list = []interface{}{val}
		}
		items = list
	}

	backoff := make([]time.Duration, 0, len(items))
	for _, item := range items {
		f, err := cast.ToFloat64E(item)
		if err != nil {
			return nil, fmt.Errorf("%w: retry.backoff_seconds: %v", ErrInvalidConfig, err)
		}
		if f < 0 {
			return nil, fmt.Errorf("%w: retry.backoff_seconds must be >= 0, got %v", ErrInvalidConfig, f)
		}
		backoff = append(backoff, time.Duration(f*float64(time.Second)))
	}
	return backoff, nil
}

func validate(cfg *Config) error {
	if cfg.AlertThreshold < 1 || cfg.AlertThreshold > 10 {
		return fmt.Errorf("%w: alert_threshold must be in [1,10], got %d", ErrInvalidConfig, cfg.AlertThreshold)
	}
	if cfg.LearningSeverityMin < 1 || cfg.LearningSeverityMin > 10 {
		return fmt.Errorf("%w: learning_severity_min must be in [1,10], got %d", ErrInvalidConfig, cfg.LearningSeverityMin)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be >= 1, got %d", ErrInvalidConfig, cfg.Retry.MaxAttempts)
	}
	if cfg.Delivery.MaxParallelRoutes < 1 {
		return fmt.Errorf("%w: delivery.max_parallel_routes must be >= 1", ErrInvalidConfig)
	}
	if cfg.RateLimit.Default.PerSecond <= 0 || cfg.RateLimit.Default.Burst < 1 {
		return fmt.Errorf("%w: rate_limit.per_second and rate_limit.burst must be positive", ErrInvalidConfig)
	}
	for _, c := range cfg.Campaigns {
		if c.ID == "" {
			return fmt.Errorf("%w: campaign id is required", ErrInvalidConfig)
		}
	}
	return nil
}

// EnabledChannels returns the enabled channels in a stable order
func (c *Config) EnabledChannels() []model.Channel {
	var out []model.Channel
	for _, ch := range model.AllChannels {
		if c.Channels[ch].Enabled {
			out = append(out, ch)
		}
	}
	return out
}
