package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FeiLiu/cache"
	"FeiLiu/config"
	"FeiLiu/core/auth"
	"FeiLiu/core/bus"
	"FeiLiu/core/ffmpeg"
	"FeiLiu/core/scanner"
	"FeiLiu/core/stream"
	"FeiLiu/db"
	"FeiLiu/logger"
	"FeiLiu/repository"
	"FeiLiu/storage"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	auth.SetSecret(cfg.JWTSecret)

	// 初始化 MinIO 客户端（未配置时跳过）
	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("MinIO初始化失败", logger.ErrorField(err))
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("数据库连接失败", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("数据库初始化失败", logger.ErrorField(err))
	}

	// 会话表走GORM
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("GORM连接失败", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("Redis连接失败", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	// Create necessary directories if they don't exist
	ensureDirExists(cfg.StaticDir)
	ensureDirExists(cfg.StreamDir)
	ensureDirExists(cfg.ThumbnailDir)

	libraryRepo := repository.NewMySQLLibraryRepository()
	mediaRepo := repository.NewMySQLMediaItemRepository()
	userRepo := repository.NewMySQLUserRepository()
	sessionRepo := repository.NewGormStreamSessionRepository()

	processor := ffmpeg.NewProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	encoder := ffmpeg.NewHLSEncoder(processor)

	// 事件总线
	hub := bus.NewHub()
	go hub.Run()

	orchestrator := stream.NewOrchestrator(cfg, mediaRepo, userRepo, sessionRepo,
		encoder, hub, clockwork.NewRealClock())

	// 崩溃恢复：把上次进程留下的孤儿会话和输出目录清掉
	if err := orchestrator.RecoverOrphans(); err != nil {
		logger.Warn("孤儿会话清理失败", logger.ErrorField(err))
	}

	ingestor := scanner.NewIngestor(mediaRepo, processor, processor, cfg.ThumbnailDir)
	watches := scanner.NewWatchManager(mediaRepo, ingestor, hub)
	libScanner := scanner.NewScanner(libraryRepo, ingestor, watches, hub, cfg.ScanBatchSize)
	defer watches.Close()

	// 启动时扫一遍已启用的库，扫描完成后目录监听随之生效
	go scanEnabledLibraries(libraryRepo, libScanner)

	// 资源统计定时广播给管理员
	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	statsBroadcaster := bus.NewStatsBroadcaster(hub, orchestrator,
		time.Duration(cfg.StatsIntervalSec)*time.Second, cfg.StaticDir)
	go statsBroadcaster.Run(statsCtx)

	apiHandler := NewAPIHandler(libraryRepo, mediaRepo, userRepo, libScanner, orchestrator, hub, cfg)

	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// 媒体库管理
	router.HandleFunc("/api/libraries", apiHandler.AdminMiddleware(apiHandler.CreateLibraryHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/libraries", apiHandler.AuthMiddleware(apiHandler.GetLibrariesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/libraries/{id}", apiHandler.AdminMiddleware(apiHandler.DeleteLibraryHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/libraries/{id}/scan", apiHandler.AdminMiddleware(apiHandler.ScanLibraryHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/libraries/{id}/media", apiHandler.AuthMiddleware(apiHandler.GetLibraryMediaHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/media/{id}", apiHandler.AuthMiddleware(apiHandler.GetMediaItemHandler)).Methods(http.MethodGet)

	// 流会话
	router.HandleFunc("/api/streams", apiHandler.AuthMiddleware(apiHandler.StartStreamHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/streams", apiHandler.AuthMiddleware(apiHandler.GetActiveStreamsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/streams/{stream_id}", apiHandler.AuthMiddleware(apiHandler.StopStreamHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/streams/{stream_id}/viewers", apiHandler.AuthMiddleware(apiHandler.JoinStreamHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/streams/{stream_id}/viewers", apiHandler.AuthMiddleware(apiHandler.LeaveStreamHandler)).Methods(http.MethodDelete)

	// 实时事件
	router.HandleFunc("/ws", apiHandler.WebSocketHandler)

	// HLS流文件与缩略图
	router.Handle("/streams/{stream_id}/{file}", NewStreamFileHandler(cfg)).Methods(http.MethodGet)
	router.PathPrefix("/thumbnails/").Handler(ThumbnailHandler(cfg))

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("服务器启动", logger.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务器启动失败", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("正在关闭服务器...")

	// 活跃的转码先停掉，让编码器有机会优雅退出
	for streamID := range orchestrator.ActiveStreams() {
		orchestrator.StopStream(streamID)
	}
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("服务器强制关闭", logger.ErrorField(err))
	}

	logger.Info("服务器已停止")
}

// scanEnabledLibraries 启动时对所有启用的库做一次全量扫描
func scanEnabledLibraries(libraries repository.LibraryRepository, sc *scanner.Scanner) {
	enabled, err := libraries.GetEnabledLibraries()
	if err != nil {
		logger.Error("查询媒体库失败", logger.ErrorField(err))
		return
	}
	for _, library := range enabled {
		sc.Scan(context.Background(), library)
	}
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("创建目录", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("创建目录失败", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("检查目录失败", logger.String("path", path), logger.ErrorField(err))
	}
}
