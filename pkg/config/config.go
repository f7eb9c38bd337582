package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Drive    DriveConfig
	Milvus   MilvusConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Splitter SplitterConfig
	Query    QueryConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type DriveConfig struct {
	CredentialsPath string
	FolderID        string
	PollIntervalSec int
	StatePath       string
	DownloadDir     string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
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
	TTLSec   int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type SplitterConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type QueryConfig struct {
	TopK                int
	SimilarityThreshold float64
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
	viper.AddConfigPath("/etc/drive-rag")

	viper.SetEnvPrefix("DRIVE_RAG")
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

// ValidateSync checks the credentials the reconciliation pipeline cannot run
// without. Missing credentials are fatal at startup, not deferred.
func (c *Config) ValidateSync() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.apiKey")
	}
	if c.Drive.CredentialsPath == "" {
		missing = append(missing, "drive.credentialsPath")
	}
	if c.Drive.FolderID == "" {
		missing = append(missing, "drive.folderId")
	}
	if c.Milvus.Endpoint == "" {
		missing = append(missing, "milvus.endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateQuery checks what the query path needs (no Drive access required).
func (c *Config) ValidateQuery() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.apiKey")
	}
	if c.Milvus.Endpoint == "" {
		missing = append(missing, "milvus.endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("drive.pollIntervalSec", 60)
	viper.SetDefault("drive.statePath", "./data/drive_monitor_state.json")
	viper.SetDefault("drive.downloadDir", "")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "documents")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/driverag.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("splitter.chunkSize", 3000)
	viper.SetDefault("splitter.chunkOverlap", 400)

	viper.SetDefault("query.topK", 5)
	viper.SetDefault("query.similarityThreshold", 0.1)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
