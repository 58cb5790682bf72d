package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Twitter struct {
		BaseURL     string `yaml:"base_url"`
		BearerToken string `yaml:"bearer_token"`
		AccessToken string `yaml:"access_token"`
		BotHandle   string `yaml:"bot_handle"`
		BotUserID   string `yaml:"bot_user_id"`

		SearchInterval string `yaml:"search_interval"` // e.g. "15m"
		DailyPostLimit int    `yaml:"daily_post_limit"`
		MaxResults     int    `yaml:"max_results"`

		// When a mention replies to another tweet, fetch that tweet's text
		// and hand it to the answer service as context.
		FetchParentContext bool `yaml:"fetch_parent_context"`
	} `yaml:"twitter"`

	Answer struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"` // e.g. "30s"
	} `yaml:"answer"`

	Bot struct {
		// Reply to mentions with no extractable question using a generic
		// greeting prompt instead of skipping them.
		ReplyToBareMentions bool `yaml:"reply_to_bare_mentions"`

		// Record a mention as processed immediately when the answer service
		// is down, instead of retrying it on later cycles.
		SkipOnUnavailable bool `yaml:"skip_on_unavailable"`

		MaxAnswerRetries int `yaml:"max_answer_retries"`
		MaxPostRetries   int `yaml:"max_post_retries"`
		AnswerWorkers    int `yaml:"answer_workers"`
		ReplyCharLimit   int `yaml:"reply_char_limit"`
	} `yaml:"bot"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
}

// SearchInterval returns the parsed poll interval.
func (c *Config) SearchInterval() time.Duration {
	d, _ := time.ParseDuration(c.Twitter.SearchInterval)
	return d
}

// AnswerTimeout returns the parsed answer service timeout.
func (c *Config) AnswerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Answer.Timeout)
	return d
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Set defaults
	if config.Server.Port == "" {
		config.Server.Port = "8003"
	}

	if config.Twitter.BaseURL == "" {
		config.Twitter.BaseURL = "https://api.twitter.com"
	}

	if config.Twitter.SearchInterval == "" {
		config.Twitter.SearchInterval = "15m"
	}

	if config.Twitter.DailyPostLimit == 0 {
		config.Twitter.DailyPostLimit = 17
	}

	if config.Twitter.MaxResults == 0 {
		config.Twitter.MaxResults = 10
	}

	if config.Answer.Timeout == "" {
		config.Answer.Timeout = "30s"
	}

	if config.Bot.MaxAnswerRetries == 0 {
		config.Bot.MaxAnswerRetries = 3
	}

	if config.Bot.MaxPostRetries == 0 {
		config.Bot.MaxPostRetries = 3
	}

	if config.Bot.AnswerWorkers == 0 {
		config.Bot.AnswerWorkers = 3
	}

	if config.Bot.ReplyCharLimit == 0 {
		config.Bot.ReplyCharLimit = 280
	}

	if config.Database.Path == "" {
		config.Database.Path = "./data/mentionbot.db"
	}

	// Validate parseable durations up front so a bad config fails at startup
	if _, err := time.ParseDuration(config.Twitter.SearchInterval); err != nil {
		return nil, fmt.Errorf("invalid search_interval: %w", err)
	}
	if _, err := time.ParseDuration(config.Answer.Timeout); err != nil {
		return nil, fmt.Errorf("invalid answer timeout: %w", err)
	}

	// Expand environment variables in credentials and identity fields. The
	// bot user ID feeds the own-tweet filter, so a literal "${...}" here
	// would silently disable it.
	config.Twitter.BearerToken = os.ExpandEnv(config.Twitter.BearerToken)
	config.Twitter.AccessToken = os.ExpandEnv(config.Twitter.AccessToken)
	config.Twitter.BotHandle = os.ExpandEnv(config.Twitter.BotHandle)
	config.Twitter.BotUserID = os.ExpandEnv(config.Twitter.BotUserID)
	config.Answer.BaseURL = os.ExpandEnv(config.Answer.BaseURL)

	return config, nil
}
