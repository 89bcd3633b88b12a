// Package main 是新闻问答网关的入口点
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ramanshu-1216/news-agent/internal/backend"
	"github.com/Ramanshu-1216/news-agent/internal/cache"
	"github.com/Ramanshu-1216/news-agent/internal/config"
	"github.com/Ramanshu-1216/news-agent/internal/handler"
	"github.com/Ramanshu-1216/news-agent/internal/middleware"
	"github.com/Ramanshu-1216/news-agent/internal/model"
	"github.com/Ramanshu-1216/news-agent/internal/repository"
	"github.com/Ramanshu-1216/news-agent/internal/service"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}

	// 自动迁移数据库表
	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		log.Fatalf("Failed to init redis: %v", err)
	}

	// 初始化问答后端客户端
	agentClient := backend.NewClient(cfg.Agent)

	// 初始化 Repository 层
	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 初始化 Service 层
	sessionService := service.NewSessionService(sessionRepo, messageRepo, redisCache)
	chatService := service.NewChatService(sessionService, agentClient)

	// 初始化 Handler 层
	sessionHandler := handler.NewSessionHandler(sessionService)
	chatHandler := handler.NewChatHandler(chatService, cfg.Agent.KeepAliveInterval)
	wsHandler := handler.NewWSHandler(chatService, cfg.Agent.KeepAliveInterval)
	healthHandler := handler.NewHealthHandler(&dbPinger{db: db}, redisCache, agentClient)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(corsConfig(cfg)))

	// 注册路由
	registerRoutes(router, sessionHandler, chatHandler, wsHandler, healthHandler)

	// 创建 HTTP 服务器
	// 流式接口在响应写出期间长时间占用连接，WriteTimeout 不能卡在常规值
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("[INFO] Server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[INFO] Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := redisCache.Close(); err != nil {
		log.Printf("[WARN] Failed to close redis: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("[WARN] Failed to close database: %v", err)
		}
	}

	log.Println("[INFO] Server exited")
}

// dbPinger 把 gorm 连接包装成健康检查探测
type dbPinger struct {
	db *gorm.DB
}

func (p *dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// initDatabase 初始化数据库连接
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.MySQL.Username,
		cfg.MySQL.Password,
		cfg.MySQL.Host,
		cfg.MySQL.Port,
		cfg.MySQL.Database,
		cfg.MySQL.Charset,
	)

	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MySQL.MaxLifetime) * time.Second)

	log.Println("[INFO] Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移数据库表
func autoMigrate(db *gorm.DB) error {
	log.Println("[INFO] Running database migrations...")

	if err := db.AutoMigrate(
		&model.Session{},
		&model.ChatMessage{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	log.Println("[INFO] Database migrations completed")
	return nil
}

// corsConfig 从服务配置构建 CORS 配置
func corsConfig(cfg *config.Config) middleware.CORSConfig {
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORS) > 0 {
		corsCfg.AllowOrigins = cfg.Server.CORS
	}
	return corsCfg
}

// registerRoutes 注册所有路由
func registerRoutes(
	router *gin.Engine,
	sessionHandler *handler.SessionHandler,
	chatHandler *handler.ChatHandler,
	wsHandler *handler.WSHandler,
	healthHandler *handler.HealthHandler,
) {
	// 健康检查
	router.GET("/health", healthHandler.Check)

	// 会话管理
	sessions := router.Group("/sessions")
	{
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("", sessionHandler.ListSessions)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.DELETE("/:id", sessionHandler.ClearSession)
	}

	// 会话历史
	router.GET("/chat-history/:id", sessionHandler.GetChatHistory)

	// 对话
	chat := router.Group("/chat")
	{
		chat.POST("", chatHandler.SendMessage)
		chat.POST("/stream", chatHandler.StreamMessage)
		chat.GET("/ws", wsHandler.Stream)
	}
}
