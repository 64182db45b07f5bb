package setup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/repositories"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database 会话存储及其关闭函数
type Database struct {
	Repo  repositories.SessionRepository
	Close func()
}

// InitDatabase 按 database.driver 初始化会话存储
func InitDatabase(ctx context.Context, cfg *config.Config) (*Database, error) {
	switch cfg.Database.Driver {
	case "mysql", "sqlite":
		db, err := InitGorm(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return &Database{
			Repo:  repositories.NewDBSessionRepository(db),
			Close: func() { CloseGorm(db) },
		}, nil
	case "dynamodb":
		client, err := InitDynamoDB(ctx, &cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return &Database{
			Repo:  repositories.NewDynamoSessionRepository(client, cfg.DynamoDB.TableName),
			Close: func() {},
		}, nil
	default:
		return nil, fmt.Errorf("invalid database driver %q", cfg.Database.Driver)
	}
}

// InitGorm 初始化 MySQL 或 SQLite 连接并迁移会话表
func InitGorm(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("invalid gorm driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object from GORM: %w", err)
	}

	// 设置连接池参数
	if cfg.Driver == "sqlite" {
		// SQLite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	logger.Info("Database connected", zap.String("driver", cfg.Driver))

	// 自动迁移数据库表结构
	if err := db.AutoMigrate(&models.UploadSession{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate database tables: %w", err)
	}
	logger.Info("Database tables migrated successfully")
	return db, nil
}

// CloseGorm 关闭数据库连接
func CloseGorm(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Error getting generic database object to close", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("Error closing database connection", zap.Error(err))
		return
	}
	logger.Info("Database connection closed")
}

// DynamoTableAPI 建表用到的 DynamoDB 方法
type DynamoTableAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// InitDynamoDB 创建 DynamoDB 客户端并确保会话表存在
func InitDynamoDB(ctx context.Context, cfg *config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := EnsureDynamoTable(ctx, client, cfg.TableName, 25*time.Second); err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureDynamoTable 表不存在时以 upload_id 为分区键按需计费建表, 并等待其可用
func EnsureDynamoTable(ctx context.Context, client DynamoTableAPI, tableName string, wait time.Duration) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		logger.Info("DynamoDB table already exists", zap.String("table", tableName))
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", tableName, err)
	}

	logger.Info("DynamoDB table not found, creating", zap.String("table", tableName))
	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("upload_id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("upload_id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = 100 * time.Millisecond
		o.MaxDelay = 2 * time.Second
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, wait); err != nil {
		return fmt.Errorf("wait for table %s: %w", tableName, err)
	}
	logger.Info("DynamoDB table created", zap.String("table", tableName))
	return nil
}
