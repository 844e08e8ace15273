package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"FeiLiu/config"
	"FeiLiu/core/bus"
	"FeiLiu/core/ffmpeg"
	"FeiLiu/core/scanner"
	"FeiLiu/db"
	"FeiLiu/logger"
	"FeiLiu/repository"
	"FeiLiu/storage"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [library_id]",
	Short: "扫描指定的媒体库",
	Long:  `对指定的媒体库做一次全量扫描，不带参数时扫描所有启用的库。`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogPath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法初始化MinIO: %v", err)
		}
		if err := db.ConnectDB(cfg); err != nil {
			log.Fatalf("无法连接到数据库: %v", err)
		}
		defer db.DB.Close()

		if err := db.InitDB(); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}

		libraryRepo := repository.NewMySQLLibraryRepository()
		mediaRepo := repository.NewMySQLMediaItemRepository()
		processor := ffmpeg.NewProcessor(cfg.FFmpegPath, cfg.FFprobePath)

		// 离线扫描不连WebSocket客户端，事件发出去没人收也无妨
		hub := bus.NewHub()
		go hub.Run()
		defer hub.Stop()

		ingestor := scanner.NewIngestor(mediaRepo, processor, processor, cfg.ThumbnailDir)
		watches := scanner.NewWatchManager(mediaRepo, ingestor, hub)
		defer watches.Close()
		sc := scanner.NewScanner(libraryRepo, ingestor, watches, hub, cfg.ScanBatchSize)

		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				log.Fatalf("无效的媒体库ID: %s", args[0])
			}
			library, err := libraryRepo.GetLibraryByID(id)
			if err != nil {
				log.Fatalf("查询媒体库失败: %v", err)
			}
			if library == nil {
				log.Fatalf("媒体库不存在: %d", id)
			}
			if !sc.Scan(context.Background(), library) {
				log.Fatalf("扫描失败: %s", library.Path)
			}
			fmt.Printf("媒体库 %s 扫描完成\n", library.Name)
			return
		}

		enabled, err := libraryRepo.GetEnabledLibraries()
		if err != nil {
			log.Fatalf("查询媒体库失败: %v", err)
		}
		for _, library := range enabled {
			if sc.Scan(context.Background(), library) {
				fmt.Printf("媒体库 %s 扫描完成\n", library.Name)
			} else {
				fmt.Printf("媒体库 %s 扫描失败\n", library.Name)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
