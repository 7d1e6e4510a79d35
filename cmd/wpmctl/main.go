package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wpmctl",
		Short:         "wpmnorm CLI - 说话人语速归一化命令行工具",
		Long:          "离线计算转写稿的说话人语速，或调用 wpmnorm 服务的 HTTP API 上传、调速与下载音频。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(newWPMCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAdjustCmd())
	rootCmd.AddCommand(newDownloadCmd())
	return rootCmd
}

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
