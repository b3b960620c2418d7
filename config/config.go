package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendCompletions = "completions"
	BackendVader       = "vader"
	BackendONNX        = "onnx"

	StrategyMembership = "membership"
	StrategyCount      = "count"

	SinkValkey   = "valkey"
	SinkDynamoDB = "dynamodb"
	SinkKafka    = "kafka"
)

// Completions holds the parameters sent to the remote text-completion endpoint.
type Completions struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	APIKey      string
	// HealthInterval is how often the endpoint is probed during a run; 0 disables it.
	HealthInterval time.Duration

	// OAuth client-credentials; used instead of APIKey when TokenURL is set.
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
}

type ONNX struct {
	Model    string
	ModelDir string
}

type Valkey struct {
	Address    string
	Password   string
	TLS        bool
	ResultsKey string
	TTL        time.Duration
}

type DynamoDB struct {
	Region   string
	Endpoint string
	Table    string
}

type Kafka struct {
	Broker       string
	Topic        string
	FlushTimeout time.Duration
}

// Config is the full runtime configuration of a batch run.
type Config struct {
	InputPath       string
	CheckpointPath  string
	HeadlineColumn  string
	Fraction        float64
	CheckpointEvery int
	ResumeStrategy  string

	ClassifierBackend string
	Completions       Completions
	ONNX              ONNX

	Sinks    []string
	Valkey   Valkey
	DynamoDB DynamoDB
	Kafka    Kafka

	LogLevel string
}

// Load builds a Config from environment variables, applying defaults for
// anything unset.
func Load() (*Config, error) {
	c := &Config{
		InputPath:       getEnv("INPUT_PATH", "uci-news-aggregator.csv"),
		CheckpointPath:  getEnv("CHECKPOINT_PATH", "sentiments.json"),
		HeadlineColumn:  getEnv("HEADLINE_COLUMN", "TITLE"),
		Fraction:        getFloat("WORKING_SET_FRACTION", 0.1),
		CheckpointEvery: getInt("CHECKPOINT_EVERY", 10),
		ResumeStrategy:  strings.ToLower(getEnv("RESUME_STRATEGY", StrategyMembership)),

		ClassifierBackend: strings.ToLower(getEnv("CLASSIFIER_BACKEND", BackendCompletions)),
		Completions: Completions{
			BaseURL:           getEnv("COMPLETIONS_BASE_URL", "http://172.187.217.98:8000/v1/"),
			Model:             getEnv("COMPLETIONS_MODEL", "meta-llama/Llama-3.2-1B"),
			MaxTokens:         getInt("COMPLETIONS_MAX_TOKENS", 50),
			Temperature:       getFloat("COMPLETIONS_TEMPERATURE", 0.7),
			Timeout:           getDuration("COMPLETIONS_TIMEOUT", "60s"),
			APIKey:            getEnv("COMPLETIONS_API_KEY", ""),
			HealthInterval:    getDuration("COMPLETIONS_HEALTHCHECK_INTERVAL", "15s"),
			OAuthTokenURL:     getEnv("COMPLETIONS_OAUTH_TOKEN_URL", ""),
			OAuthClientID:     getEnv("COMPLETIONS_OAUTH_CLIENT_ID", ""),
			OAuthClientSecret: getEnv("COMPLETIONS_OAUTH_CLIENT_SECRET", ""),
		},
		ONNX: ONNX{
			Model:    getEnv("ONNX_MODEL", "KnightsAnalytics/distilbert-base-uncased-finetuned-sst-2-english"),
			ModelDir: getEnv("ONNX_MODEL_DIR", "./models"),
		},

		Sinks: splitAndTrim(strings.ToLower(getEnv("RESULT_SINKS", ""))),
		Valkey: Valkey{
			Address:    getEnv("VALKEY_INIT_ADDRESS", "localhost:6379"),
			Password:   getEnv("VALKEY_PASSWORD", ""),
			TLS:        getEnv("VALKEY_TLS", "false") == "true",
			ResultsKey: getEnv("VALKEY_RESULTS_KEY", "sentibatch:verdicts"),
			TTL:        getDuration("VALKEY_RESULTS_TTL", "24h"),
		},
		DynamoDB: DynamoDB{
			Region:   getEnv("AWS_REGION", "us-west-2"),
			Endpoint: getEnv("AWS_ENDPOINT", ""),
			Table:    getEnv("DYNAMODB_TABLE", "HeadlineVerdicts"),
		},
		Kafka: Kafka{
			Broker:       getEnv("KAFKA_BROKER", "localhost:29092"),
			Topic:        getEnv("KAFKA_TOPIC", "headline-verdicts"),
			FlushTimeout: getDuration("KAFKA_FLUSH_TIMEOUT", "10s"),
		},

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("INPUT_PATH must not be empty")
	}
	if c.CheckpointPath == "" {
		return fmt.Errorf("CHECKPOINT_PATH must not be empty")
	}
	if c.HeadlineColumn == "" {
		return fmt.Errorf("HEADLINE_COLUMN must not be empty")
	}
	if c.Fraction <= 0 || c.Fraction > 1 {
		return fmt.Errorf("WORKING_SET_FRACTION must be in (0, 1]")
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("CHECKPOINT_EVERY must be positive")
	}

	switch c.ResumeStrategy {
	case StrategyMembership, StrategyCount:
	default:
		return fmt.Errorf("RESUME_STRATEGY must be %q or %q, got %q", StrategyMembership, StrategyCount, c.ResumeStrategy)
	}

	switch c.ClassifierBackend {
	case BackendCompletions:
		if _, err := url.ParseRequestURI(c.Completions.BaseURL); err != nil {
			return fmt.Errorf("COMPLETIONS_BASE_URL is not a valid URL: %w", err)
		}
		if c.Completions.Model == "" {
			return fmt.Errorf("COMPLETIONS_MODEL must not be empty")
		}
		if c.Completions.MaxTokens <= 0 {
			return fmt.Errorf("COMPLETIONS_MAX_TOKENS must be positive")
		}
		if c.Completions.Temperature < 0 || c.Completions.Temperature > 2 {
			return fmt.Errorf("COMPLETIONS_TEMPERATURE must be in [0, 2]")
		}
		if c.Completions.Timeout <= 0 {
			return fmt.Errorf("COMPLETIONS_TIMEOUT must be positive")
		}
		if c.Completions.HealthInterval < 0 {
			return fmt.Errorf("COMPLETIONS_HEALTHCHECK_INTERVAL must not be negative")
		}
		if c.Completions.OAuthTokenURL != "" && c.Completions.APIKey != "" {
			return fmt.Errorf("COMPLETIONS_API_KEY and COMPLETIONS_OAUTH_TOKEN_URL are mutually exclusive")
		}
	case BackendVader:
	case BackendONNX:
		if c.ONNX.Model == "" {
			return fmt.Errorf("ONNX_MODEL must not be empty")
		}
	default:
		return fmt.Errorf("unknown CLASSIFIER_BACKEND %q", c.ClassifierBackend)
	}

	for _, s := range c.Sinks {
		switch s {
		case SinkValkey:
			if c.Valkey.Address == "" {
				return fmt.Errorf("VALKEY_INIT_ADDRESS must be set for the valkey sink")
			}
		case SinkDynamoDB:
			if c.DynamoDB.Table == "" {
				return fmt.Errorf("DYNAMODB_TABLE must be set for the dynamodb sink")
			}
		case SinkKafka:
			if c.Kafka.Broker == "" || c.Kafka.Topic == "" {
				return fmt.Errorf("KAFKA_BROKER and KAFKA_TOPIC must be set for the kafka sink")
			}
		default:
			return fmt.Errorf("unknown result sink %q", s)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
