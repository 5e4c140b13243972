package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yunketang/playback-backend/internal/config"
	"github.com/yunketang/playback-backend/internal/database"
	"github.com/yunketang/playback-backend/internal/handler"
	"github.com/yunketang/playback-backend/internal/middleware"
	"github.com/yunketang/playback-backend/internal/model"
	"github.com/yunketang/playback-backend/internal/redis"
	"github.com/yunketang/playback-backend/internal/repository"
	"github.com/yunketang/playback-backend/internal/service"
	"github.com/yunketang/playback-backend/pkg/response"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 密钥配置缺失必须在启动时失败
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 初始化数据库连接
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()
	log.Println("数据库连接成功")

	// 初始化 Redis 连接
	if err := redis.Init(&cfg.Redis); err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	defer redis.Close()
	log.Println("Redis 连接成功")

	// 自动迁移数据库表
	if err := database.AutoMigrate(
		&model.Course{},
		&model.Enrollment{},
		&model.PlaybackSession{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库迁移完成")

	// 派生密钥集
	keys, err := service.DeriveKeys(cfg.Playback.MasterSecret)
	if err != nil {
		log.Fatalf("派生密钥失败: %v", err)
	}

	// 加载 CDN 签名私钥
	privateKey, err := service.LoadPrivateKey(cfg.CDN.PrivateKeyPath)
	if err != nil {
		log.Fatalf("加载 CDN 签名私钥失败: %v", err)
	}

	// 初始化 Repository
	courseRepo := repository.NewCourseRepository(database.GetDB())
	enrollRepo := repository.NewEnrollmentRepository(database.GetDB())
	sessionRepo := repository.NewSessionRepository(database.GetDB())

	// 初始化 Service
	courseService := service.NewCourseService(courseRepo, enrollRepo)
	sessionService := service.NewPlaybackSessionService(sessionRepo, &service.PlaybackSessionConfig{
		Ceiling:        cfg.Playback.MaxConcurrentStreams,
		ActivityWindow: cfg.Playback.ActivityWindow,
		Retention:      cfg.Playback.SessionRetention,
		IPSalt:         keys.IPSalt,
	})
	tokenService, err := service.NewPlaybackTokenService(&service.PlaybackTokenConfig{
		SigningKey: keys.TokenKey,
		Issuer:     cfg.Playback.Issuer,
		Audience:   cfg.Playback.Audience,
		TokenTTL:   cfg.Playback.TokenTTL,
	})
	if err != nil {
		log.Fatalf("初始化播放令牌服务失败: %v", err)
	}
	signer, err := service.NewResourceSigner(&service.ResourceSignerConfig{
		Domain:     cfg.CDN.Domain,
		KeyPairID:  cfg.CDN.KeyPairID,
		PrivateKey: privateKey,
		GrantTTL:   cfg.CDN.GrantTTL,
		PathPrefix: cfg.CDN.PathPrefix,
	})
	if err != nil {
		log.Fatalf("初始化资源签名服务失败: %v", err)
	}

	// 初始化限流器，多进程部署必须使用 redis 存储
	var limiter *service.RateLimiter
	switch cfg.RateLimit.Store {
	case "memory":
		store := service.NewMemoryRateLimitStore()
		limiter = service.NewRateLimiter(store, cfg.RateLimit.Ceiling, cfg.RateLimit.Window)
		// 周期清扫过期窗口
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				store.Sweep()
			}
		}()
	default:
		limiter = service.NewRateLimiter(
			service.NewRedisRateLimitStore(redis.GetClient()),
			cfg.RateLimit.Ceiling,
			cfg.RateLimit.Window,
		)
	}

	// 初始化 Handler
	playbackHandler := handler.NewPlaybackHandler(
		courseService,
		sessionService,
		tokenService,
		signer,
		limiter,
		middleware.GetLogger(),
	)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()

	// 全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		// 检查数据库连接
		dbStatus := "ok"
		if err := database.Ping(); err != nil {
			dbStatus = "error"
		}

		// 检查 Redis 连接
		redisStatus := "ok"
		redisClient := redis.GetClient()
		if redisClient == nil {
			redisStatus = "error"
		} else if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error"
		}

		response.Success(c, gin.H{
			"status":   "ok",
			"time":     time.Now().Format(time.RFC3339),
			"database": dbStatus,
			"redis":    redisStatus,
		})
	})

	// API 路由组
	api := router.Group("/api/v1")
	{
		// 清单获取由播放令牌自证，不经过平台认证
		api.GET("/playback/manifest", playbackHandler.Manifest)

		// 需要平台认证的路由
		authRequired := api.Group("")
		authRequired.Use(middleware.JWTAuth(&cfg.Auth))
		{
			authRequired.POST("/playback/token", playbackHandler.CreateToken)
			authRequired.DELETE("/playback/session", playbackHandler.RevokeSession)
			authRequired.GET("/playback/sessions", playbackHandler.ListSessions)
		}
	}

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		log.Printf("服务启动，监听地址: %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 优雅关闭，等待 5 秒
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务关闭失败: %v", err)
	}

	// 关闭数据库和 Redis 连接
	database.Close()
	redis.Close()

	log.Println("服务已关闭")
}
