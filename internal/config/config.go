package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper" // 导入 Viper
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	Database      DatabaseConfig      `mapstructure:"database"`
	DynamoDB      DynamoDBConfig      `mapstructure:"dynamodb"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Storage       StorageConfig       `mapstructure:"storage"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	AliyunOSS     AliyunOSSConfig     `mapstructure:"aliyun_oss"`
	S3            S3Config            `mapstructure:"s3"`
	Upload        UploadConfig        `mapstructure:"upload"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Log           LogConfig           `mapstructure:"log"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin 模式: debug, release, test
}

// DatabaseConfig 会话持久化存储配置
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // mysql, sqlite, dynamodb
	DSN    string `mapstructure:"dsn"`
}

type DynamoDBConfig struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"` // 本地调试可指向 localstack
	TableName string `mapstructure:"table_name"`
}

// RedisConfig Redis配置, 仅用于跨实例的会话锁
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	Type        string `mapstructure:"type"` // minio, aliyun_oss, s3, memory
	ChunkBucket string `mapstructure:"chunk_bucket"`
	FinalBucket string `mapstructure:"final_bucket"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type AliyunOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // 例如: oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// UploadConfig 分片上传协议参数
type UploadConfig struct {
	ChunkSize    int64         `mapstructure:"chunk_size"`    // 分片大小（字节）
	MaxFileSize  int64         `mapstructure:"max_file_size"` // 0 表示不限制
	Retention    time.Duration `mapstructure:"retention"`     // 未完成会话的保留时间
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// JWTConfig JWT配置, SecretKey 为空时不启用 Token 校验
type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

// ElasticsearchConfig 定义 Elasticsearch 连接配置
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

const DefaultChunkSize int64 = 5 * 1024 * 1024

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "chunkupload.db")
	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.table_name", "upload_sessions")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.chunk_bucket", "upload-chunks")
	v.SetDefault("storage.final_bucket", "uploads")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("upload.chunk_size", DefaultChunkSize)
	v.SetDefault("upload.max_file_size", 0)
	v.SetDefault("upload.retention", 24*time.Hour)
	v.SetDefault("upload.reap_interval", time.Hour)
	v.SetDefault("upload.lock_ttl", 2*time.Minute)
	v.SetDefault("jwt.expires_in", 60*time.Minute)
	v.SetDefault("jwt.issuer", "go-chunkupload")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.burst", 30)
	v.SetDefault("log.output_path", "logs/app.log")
	v.SetDefault("log.error_path", "logs/error.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "uploads")
}

// LoadConfig 加载配置
// paths 为空时依次在 ".", "./configs", "/etc/go-chunkupload/" 中查找 config.yaml
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // 配置文件名 (不带扩展名)
	v.SetConfigType("yaml")   // 配置文件类型
	if len(paths) == 0 {
		paths = []string{".", "./configs", "/etc/go-chunkupload/"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 例如：GO_CHUNKUPLOAD_SERVER_PORT 对应 server.port
	v.SetEnvPrefix("GO_CHUNKUPLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// 配置文件未找到不是致命错误，可以依赖环境变量或默认值
		log.Println("Warning: config file not found, using environment variables or default values.")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置中的协议参数
func (c *Config) Validate() error {
	if c.Upload.ChunkSize <= 0 {
		return errors.New("config: upload.chunk_size must be positive")
	}
	if c.Upload.MaxFileSize < 0 {
		return errors.New("config: upload.max_file_size must not be negative")
	}
	if c.Upload.Retention <= 0 {
		return errors.New("config: upload.retention must be positive")
	}
	if c.Upload.ReapInterval <= 0 {
		return errors.New("config: upload.reap_interval must be positive")
	}
	if c.Storage.ChunkBucket == "" || c.Storage.FinalBucket == "" {
		return errors.New("config: storage buckets must be set")
	}
	return nil
}
