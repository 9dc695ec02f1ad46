package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adflow-gateway/internal/bufferbridge"
	"adflow-gateway/internal/bus"
	"adflow-gateway/internal/cache"
	"adflow-gateway/internal/config"
	"adflow-gateway/internal/conversation"
	"adflow-gateway/internal/handler"
	"adflow-gateway/internal/push"
	"adflow-gateway/internal/service"
	"adflow-gateway/internal/session"
	"adflow-gateway/internal/storage"
	"adflow-gateway/internal/task"
	"adflow-gateway/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 缓冲区存储：disk模式下外部编辑器进程可直接读文件
	var store storage.BufferStore
	if cfg.Storage.Type == "disk" {
		store = storage.NewDiskStore(cfg.Storage.DataDir)
	} else {
		store = storage.NewMemoryStore()
	}
	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize buffer storage: %v", err)
		store = storage.NewMemoryStore()
		store.Init()
	}
	defer store.Close()

	// 核心组件装配
	eventBus := bus.New()
	readCache := cache.New()
	guard := session.NewGuard()
	bridge := bufferbridge.New(store)
	// disk模式下接入文件监听，外部进程的改写也能推给订阅方
	if err := bridge.StartWatch(); err != nil {
		logger.Warnf("Buffer change watch unavailable: %v", err)
	}
	registry := task.NewRegistry(readCache)
	convStore := conversation.NewStore()

	chatService := service.NewChatService(cfg, convStore, bridge, registry, readCache, eventBus, guard)

	// 推送通道：进度信号直接入册
	pushClient := push.NewClient(
		cfg.Backend.BaseURL+cfg.Push.Path,
		cfg.Backend.Token,
		func(msg push.Message) {
			registry.HandleSignal(msg.Signal)
		},
	)
	pushClient.Connect()
	defer pushClient.Close()

	// 快照对账循环（推送漏事件时的兜底）
	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	taskSync := service.NewTaskSyncService(cfg, registry, chatService.HandleAuthFailure)
	go taskSync.Run(syncCtx)

	// 初始化处理器
	chatHandler := handler.NewChatHandler(chatService, eventBus)
	dashboardHandler := handler.NewDashboardHandler(registry, bridge, pushClient)

	// 创建路由
	router := setupRouter(cfg, chatHandler, dashboardHandler)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("网关启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("网关正在关闭...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("网关已关闭")
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler, dashboardHandler *handler.DashboardHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// API路由
	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.POST("/stream", chatHandler.StreamChat)
			chat.GET("/messages", chatHandler.GetMessages)
			chat.POST("/clear", chatHandler.ClearConversation)
			chat.POST("/trigger", chatHandler.TriggerReply)
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET("", dashboardHandler.ListTasks)
			tasks.GET("/:task_type", dashboardHandler.GetTask)
		}

		buffers := api.Group("/buffers")
		{
			buffers.GET("", dashboardHandler.ListBuffers)
			buffers.GET("/:key", dashboardHandler.GetBuffer)
			buffers.GET("/:key/watch", dashboardHandler.WatchBuffer)
		}

		api.GET("/push/status", dashboardHandler.PushStatus)
	}

	return router
}
