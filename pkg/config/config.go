package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Sessions SessionsConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Analysis AnalysisConfig
	Actions  ActionsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SessionsConfig struct {
	TTLMinutes  int
	MaxSessions int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type AnalysisConfig struct {
	DefaultQueryLimit int
	SprintQueryLimit  int
	ProbeQueryLimit   int
	MaxProbes         int
	ProbeMaxWorkers   int
}

type ActionsConfig struct {
	JiraProject  string
	SlackChannel string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/insight-agent")

	viper.SetEnvPrefix("INSIGHT_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 120)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 52428800)

	viper.SetDefault("sessions.ttlMinutes", 60)
	viper.SetDefault("sessions.maxSessions", 50)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cacheTTL", 300)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 90)

	viper.SetDefault("analysis.defaultQueryLimit", 1200)
	viper.SetDefault("analysis.sprintQueryLimit", 2000)
	viper.SetDefault("analysis.probeQueryLimit", 900)
	viper.SetDefault("analysis.maxProbes", 5)
	viper.SetDefault("analysis.probeMaxWorkers", 4)

	viper.SetDefault("actions.jiraProject", "DATA")
	viper.SetDefault("actions.slackChannel", "#data-alerts")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
