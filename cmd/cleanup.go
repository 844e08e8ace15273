package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"FeiLiu/config"
	"FeiLiu/db"
	"FeiLiu/repository"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理孤儿流会话",
	Long:  `把上次进程异常退出留下的未完成会话标记为已停止，并删除残留的HLS输出目录。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		if err := db.ConnectGormDB(cfg); err != nil {
			log.Fatalf("无法连接到数据库: %v", err)
		}
		defer db.CloseGormDB()

		sessionRepo := repository.NewGormStreamSessionRepository()

		marked, err := sessionRepo.MarkUnfinishedStopped(time.Now())
		if err != nil {
			log.Fatalf("标记未完成会话失败: %v", err)
		}
		fmt.Printf("已标记 %d 个未完成会话\n", marked)

		entries, err := os.ReadDir(cfg.StreamDir)
		if os.IsNotExist(err) {
			fmt.Println("流目录不存在，无需清理")
			return
		}
		if err != nil {
			log.Fatalf("读取流目录失败: %v", err)
		}

		removed := 0
		for _, entry := range entries {
			path := filepath.Join(cfg.StreamDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				log.Printf("删除 %s 失败: %v", path, err)
				continue
			}
			removed++
		}
		fmt.Printf("已删除 %d 个残留输出目录\n", removed)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
