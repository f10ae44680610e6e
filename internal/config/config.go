package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GmailConfig holds Gmail API / IMAP configuration for the email source
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	WindowDays   int    `mapstructure:"window_days"`
}

// ExtractorConfig holds the LLM extractor client configuration
type ExtractorConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// GateConfig holds the pre-extraction gate patterns and call budget.
// Pattern lists are configuration data so gating behavior is tunable
// without code changes.
type GateConfig struct {
	MinBodyLength    int      `mapstructure:"min_body_length"`
	ScoreThreshold   int      `mapstructure:"score_threshold"`
	Keywords         []string `mapstructure:"keywords"`
	KeywordWeight    int      `mapstructure:"keyword_weight"`
	SubjectBonus     int      `mapstructure:"subject_bonus"`
	TimePatterns     []string `mapstructure:"time_patterns"`
	TimeWeight       int      `mapstructure:"time_weight"`
	LocationKeywords []string `mapstructure:"location_keywords"`
	LocationWeight   int      `mapstructure:"location_weight"`
	MaxCallsPerRun   int      `mapstructure:"max_calls_per_run"`
}

// LearningConfig holds confidence learning store tuning
type LearningConfig struct {
	Alpha            float64 `mapstructure:"alpha"`
	ObserveThreshold float64 `mapstructure:"observe_threshold"`
	LookupThreshold  float64 `mapstructure:"lookup_threshold"`
	CleanupFloor     float64 `mapstructure:"cleanup_floor"`
	RetentionDays    int     `mapstructure:"retention_days"`
}

// ResolverConfig holds date/time resolution tuning
type ResolverConfig struct {
	// PastGraceDays is how far in the past a year-less month/day may fall
	// before it rolls over to the next year.
	PastGraceDays int `mapstructure:"past_grace_days"`
}

// DedupeConfig holds fuzzy deduplication tuning
type DedupeConfig struct {
	Similarity float64 `mapstructure:"similarity"`
	WindowDays int     `mapstructure:"window_days"`
}

// EngineConfig holds all tuning for the extraction engine
type EngineConfig struct {
	Timezone           string         `mapstructure:"timezone"`
	Workers            int            `mapstructure:"workers"`
	CacheTTL           time.Duration  `mapstructure:"cache_ttl"`
	Categories         []string       `mapstructure:"categories"`
	Cuisines           []string       `mapstructure:"cuisines"`
	RecruitingPatterns []string       `mapstructure:"recruiting_patterns"`
	Gate               GateConfig     `mapstructure:"gate"`
	Learning           LearningConfig `mapstructure:"learning"`
	Resolver           ResolverConfig `mapstructure:"resolver"`
	Dedupe             DedupeConfig   `mapstructure:"dedupe"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("gmail.use_imap", false)
	viper.SetDefault("gmail.imap_host", "imap.gmail.com")
	viper.SetDefault("gmail.imap_port", 993)
	viper.SetDefault("gmail.window_days", 14)

	viper.SetDefault("extractor.model", "gpt-4o-mini")
	viper.SetDefault("extractor.timeout", "45s")
	viper.SetDefault("extractor.max_retries", 2)
	viper.SetDefault("extractor.retry_backoff", "2s")

	viper.SetDefault("engine.timezone", "America/New_York")
	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.cache_ttl", "24h")
	viper.SetDefault("engine.categories", []string{
		"workshop", "lecture", "meeting", "concert", "social", "seminar",
		"talk", "presentation", "conference", "gathering", "session",
		"party", "celebration", "dinner", "lunch", "breakfast", "reception",
		"ceremony", "festival", "fair", "exhibition", "audition", "tryout",
		"info_session", "kickoff", "launch", "orientation",
	})
	viper.SetDefault("engine.cuisines", []string{
		"American", "Chinese", "Indian", "Italian", "Japanese", "Korean",
		"Mexican", "Thai", "Taiwanese", "Mediterranean", "Middle Eastern",
		"African", "Latin American", "European", "Other",
	})
	viper.SetDefault("engine.recruiting_patterns", []string{
		"apply", "application", "hiring", "ongoing", "roles", "recruiting",
		"join our team",
	})

	viper.SetDefault("engine.gate.min_body_length", 100)
	viper.SetDefault("engine.gate.score_threshold", 2)
	viper.SetDefault("engine.gate.keywords", []string{
		"event", "meeting", "workshop", "seminar", "talk", "lecture",
		"conference", "gathering", "session", "presentation", "party",
		"celebration", "dinner", "lunch", "breakfast", "reception",
		"ceremony", "festival", "fair", "exhibition", "audition", "tryout",
		"info session", "kickoff", "launch", "orientation", "show",
		"performance", "concert", "screening", "demo", "tour", "open house",
		"mixer", "networking", "social", "hangout", "get together",
		"food", "snack", "refreshments", "pizza", "boba", "join",
	})
	viper.SetDefault("engine.gate.keyword_weight", 1)
	viper.SetDefault("engine.gate.subject_bonus", 2)
	viper.SetDefault("engine.gate.time_patterns", []string{
		`\b\d{1,2}:\d{2}\s*(am|pm)?\b`,
		`\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`,
		`\b\d{4}-\d{2}-\d{2}\b`,
		`\b(mon|tues|wednes|thurs|fri|satur|sun)day\b`,
		`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\w*\s+\d{1,2}\b`,
		`\b(today|tomorrow|tonight|this week|next week)\b`,
		`\b(morning|afternoon|evening|night)\b`,
	})
	viper.SetDefault("engine.gate.time_weight", 1)
	viper.SetDefault("engine.gate.location_keywords", []string{
		"location", "where", "room", "hall", "building", "address",
		"venue", "place", "campus", "center", "centre",
	})
	viper.SetDefault("engine.gate.location_weight", 1)
	viper.SetDefault("engine.gate.max_calls_per_run", 10)

	viper.SetDefault("engine.learning.alpha", 0.3)
	viper.SetDefault("engine.learning.observe_threshold", 0.6)
	viper.SetDefault("engine.learning.lookup_threshold", 0.7)
	viper.SetDefault("engine.learning.cleanup_floor", 0.4)
	viper.SetDefault("engine.learning.retention_days", 90)

	viper.SetDefault("engine.resolver.past_grace_days", 90)

	viper.SetDefault("engine.dedupe.similarity", 0.85)
	viper.SetDefault("engine.dedupe.window_days", 1)

	viper.SetDefault("scheduler.interval_minutes", 30)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	viper.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")
	viper.BindEnv("gmail.window_days", "GMAIL_WINDOW_DAYS")

	viper.BindEnv("extractor.api_key", "OPENAI_API_KEY")
	viper.BindEnv("extractor.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("extractor.model", "OPENAI_MODEL")

	viper.BindEnv("engine.timezone", "ENGINE_TIMEZONE")
	viper.BindEnv("engine.workers", "ENGINE_WORKERS")
	viper.BindEnv("engine.cache_ttl", "ENGINE_CACHE_TTL")
	viper.BindEnv("engine.gate.max_calls_per_run", "ENGINE_MAX_CALLS_PER_RUN")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	} else {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.Extractor.APIKey == "" {
		return fmt.Errorf("extractor API key is required")
	}

	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid engine timezone %q: %w", c.Engine.Timezone, err)
	}

	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine workers must be greater than 0")
	}

	if c.Engine.Gate.MaxCallsPerRun <= 0 {
		return fmt.Errorf("gate max calls per run must be greater than 0")
	}

	if a := c.Engine.Learning.Alpha; a <= 0 || a > 1 {
		return fmt.Errorf("learning alpha must be in (0, 1]")
	}

	if s := c.Engine.Dedupe.Similarity; s <= 0 || s > 1 {
		return fmt.Errorf("dedupe similarity must be in (0, 1]")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
