package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/handlers"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/cache"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/lock"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/search"
	"github.com/3Eeeecho/go-chunkupload/internal/router"
	"github.com/3Eeeecho/go-chunkupload/internal/services/upload"
	"github.com/3Eeeecho/go-chunkupload/internal/setup"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	reaper      *upload.Reaper
	redisClient *redis.Client
	closeDB     func()
}

// NewServer 负责构建所有依赖
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	// 初始化会话存储
	db, err := setup.InitDatabase(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 初始化对象存储
	store, err := setup.InitStorage(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 多实例部署时锁和缓存都放在 Redis
	var (
		locker       lock.Locker        = lock.NewKeyedLocker()
		sessionCache cache.SessionCache = cache.NewSessionCache()
		redisClient  *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = setup.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		locker = lock.NewRedisLocker(redisClient, cfg.Upload.LockTTL)
		sessionCache = cache.NewRedisSessionCache(redisClient, cfg.Upload.Retention)
	}

	deps := upload.Deps{
		Repo:   db.Repo,
		Store:  store,
		Locker: locker,
		Cache:  sessionCache,
	}

	// 初始化Elasticsearch
	if cfg.Elasticsearch.Enabled {
		esClient, err := setup.InitElasticsearchClient(&cfg.Elasticsearch)
		if err != nil {
			// 索引只是附加功能, 连接失败不阻止启动
			logger.Warn("Elasticsearch unavailable, finalized uploads will not be indexed", zap.Error(err))
		} else {
			deps.Hook = search.NewUploadIndexer(esClient, cfg.Elasticsearch.Index)
		}
	}

	//  初始化 Services
	manager := upload.NewSessionManager(cfg, deps)
	reaper := upload.NewReaper(cfg, deps, manager)

	//  初始化 Handlers
	uploadHandler := handlers.NewUploadHandler(manager)

	// 初始化 Gin 引擎和注册路由
	engine := router.InitRouter(uploadHandler, cfg)

	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", addr))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		router:      engine,
		httpServer:  httpServer,
		reaper:      reaper,
		redisClient: redisClient,
		closeDB:     db.Close,
	}, nil
}

// Run 启动服务器和清理任务，并处理优雅关机
func (s *Server) Run(ctx context.Context, stopChan chan os.Signal) {
	// 确保在应用关闭时，所有连接都被释放
	defer s.closeDB()
	defer setup.CloseRedis(s.redisClient)

	s.reaper.Start(ctx)

	// 启动 HTTP 服务器
	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 等待停止信号
	select {
	case <-stopChan:
		logger.Info("Shutting down server...")
	case err := <-serveErr:
		logger.Error("Server failed to start", zap.Error(err))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down server...")
	}

	s.reaper.Stop()

	// 优雅关机
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}
	logger.Info("Server exited gracefully")
}
