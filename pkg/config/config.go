package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMongo     = "mongo"
	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Mongo      MongoConfig
	Firestore  FirestoreConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Cache      CacheConfig
	Query      QueryConfig
	Audit      AuditConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	AllowedOrigins     string
	RateLimitPerMinute int
	MaxQueryLength     int
	IsDevelopment      bool
}

type StoreConfig struct {
	Driver string
}

type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	LogsCollection string
	TimeoutSec     int
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	MaxAttempts    int
	BackoffBaseSec float64
	CacheSize      int
}

type CacheConfig struct {
	TTLMinutes int
}

type QueryConfig struct {
	SampleSize int
}

type AuditConfig struct {
	Enabled bool
}

type EvaluationConfig struct {
	BatteryFile string
	Parallelism int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads .env, then config.yaml, then PERSONAS_* environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/personas-nlq")

	v.SetEnvPrefix("PERSONAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate reports the settings the service refuses to start without.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.LLM.APIKey) == "" {
		problems = append(problems, "llm.apiKey is required")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}

	switch c.Store.Driver {
	case StoreMongo:
		if c.Mongo.URI == "" {
			problems = append(problems, "mongo.uri is required for the mongo store")
		}
		if c.Mongo.Database == "" {
			problems = append(problems, "mongo.database is required for the mongo store")
		}
	case StoreFirestore:
		if c.Firestore.ProjectID == "" {
			problems = append(problems, "firestore.projectID is required for the firestore store")
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			problems = append(problems, "sqlite.path is required for the sqlite store")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.rateLimitPerMinute", 120)
	v.SetDefault("server.maxQueryLength", 1000)
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("store.driver", StoreMongo)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "personas")
	v.SetDefault("mongo.collection", "personas")
	v.SetDefault("mongo.logsCollection", "logs")
	v.SetDefault("mongo.timeoutSec", 5)

	v.SetDefault("firestore.projectID", "")
	v.SetDefault("firestore.credentialsFile", "")
	v.SetDefault("firestore.collection", "personas")

	v.SetDefault("sqlite.path", "./data/personas.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 400)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.maxAttempts", 3)
	v.SetDefault("llm.backoffBaseSec", 1.0)
	v.SetDefault("llm.cacheSize", 256)

	v.SetDefault("cache.ttlMinutes", 10)

	v.SetDefault("query.sampleSize", 20)

	v.SetDefault("audit.enabled", true)

	v.SetDefault("evaluation.batteryFile", "")
	v.SetDefault("evaluation.parallelism", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// bindLegacyEnv keeps the variable names used by earlier deployments working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("llm.apiKey", "PERSONAS_LLM_APIKEY", "LLM_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("mongo.uri", "PERSONAS_MONGO_URI", "MONGODB_URL", "MONGO_URI")
	_ = v.BindEnv("firestore.projectID", "PERSONAS_FIRESTORE_PROJECTID", "FIREBASE_PROJECT_ID")
	_ = v.BindEnv("firestore.credentialsFile", "PERSONAS_FIRESTORE_CREDENTIALSFILE", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("server.port", "PERSONAS_SERVER_PORT", "PORT")
}
