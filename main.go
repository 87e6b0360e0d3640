package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/handler"
	"github.com/TIANLI0/SegKit/middleware"
	"github.com/TIANLI0/SegKit/predictor"
	"github.com/TIANLI0/SegKit/service"
	"github.com/TIANLI0/SegKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting SegKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch),
		zap.String("backend", cfg.Model.Backend))

	if err := run(cfg); err != nil {
		utils.Logger.Error("server exited with error", zap.Error(err))
		utils.Sync()
		os.Exit(1)
	}
	utils.Logger.Info("server stopped")
}

func run(cfg *config.Config) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化模型后端
	p, err := predictor.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create predictor: %w", err)
	}

	dispatcher := service.NewDispatcher(&cfg.Dispatcher)
	models := service.NewModelManager(p, dispatcher)

	// 初始化Redis，连接失败时禁用缓存
	var cache service.ResultCache
	var redisService *service.RedisService
	if cfg.Redis.Enabled {
		redisService = service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = redisService.Close()
			redisService = nil
		} else {
			utils.Logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			cache = redisService
		}
	}

	defer func() {
		closeErr := multierr.Combine(dispatcher.Close(), models.Close())
		if redisService != nil {
			closeErr = multierr.Append(closeErr, redisService.Close())
		}
		err = multierr.Append(err, closeErr)
	}()

	segments := service.NewSegmentService(
		models,
		dispatcher,
		service.NewPromptRouter(cfg.Everything),
		service.NewMaskProcessor(&cfg.PostProcess),
		cache,
		cfg.Upload.MaxPixels,
	)

	// 初始化Handler
	systemHandler := handler.NewSystemHandler(models, dispatcher, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	}, cfg.Model.LoadWait)
	segmentHandler := handler.NewSegmentHandler(segments, service.NewImageFetcher(&cfg.Fetch), cfg.Upload.MaxSize)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	handler.RegisterRoutes(r, systemHandler, segmentHandler)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		utils.Logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// 启动后自动加载模型，加载失败不影响服务
	if cfg.Model.Autoload {
		state := models.RequestLoad()
		utils.Logger.Info("model autoload started", zap.String("state", string(state.Phase)))
	}

	return g.Wait()
}
