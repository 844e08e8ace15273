package cmd

import (
	"FeiLiu/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动FeiLiu服务器",
	Long:  `启动FeiLiu媒体系统的HTTP服务器，提供API服务、实时事件和HLS流`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
