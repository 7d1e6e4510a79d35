package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "上传音频并创建作业",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), cfg.Output, resp)
		},
	}
}

func newStatusCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "status <jobId>",
		Short: "查询作业状态与说话人语速",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			wait, _ := cmd.Flags().GetBool("wait")
			interval, _ := cmd.Flags().GetDuration("interval")

			for {
				st, raw, err := client.JobStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !wait || settled(st.Status) {
					return printOutput(cmd.OutOrStdout(), cfg.Output, raw)
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}
	c.Flags().BoolP("wait", "w", false, "轮询直到作业等待输入、完成或失败")
	c.Flags().Duration("interval", 3*time.Second, "轮询间隔")
	return c
}

// settled 作业不会再自行推进的状态
func settled(status string) bool {
	switch jobs.Status(status) {
	case jobs.StatusReadyForInput, jobs.StatusComplete, jobs.StatusFailed:
		return true
	}
	return false
}

func newAdjustCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "adjust <jobId>",
		Short: "提交目标语速并开始调速",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringArray("target")
			targets, err := parseTargets(raw)
			if err != nil {
				return err
			}
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			body := map[string]any{"targets": targets}
			resp, err := client.Request(cmd.Context(), "POST", "/api/v1/jobs/"+args[0]+"/adjust", body)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), cfg.Output, resp)
		},
	}
	c.Example = "  wpmctl adjust <jobId> --target speaker_A=120 --target B=150"
	c.Flags().StringArrayP("target", "t", nil, "目标语速 speakerId=wpm，可重复")
	return c
}

// parseTargets 解析 speakerId=wpm 形式的参数，裸标签 A 视为 speaker_A
func parseTargets(raw []string) ([]jobs.Target, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one --target is required")
	}
	targets := make([]jobs.Target, 0, len(raw))
	for _, r := range raw {
		id, value, ok := strings.Cut(r, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid target %q, want speakerId=wpm", r)
		}
		wpm, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", r, err)
		}
		if !strings.HasPrefix(id, jobs.SpeakerIDPrefix) {
			id = jobs.SpeakerIDFor(id)
		}
		targets = append(targets, jobs.Target{SpeakerID: id, TargetWPM: wpm})
	}
	if err := jobs.ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func newDownloadCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "download <jobId>",
		Short: "下载调速后的音频",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			out, _ := cmd.Flags().GetString("file")

			dir := "."
			if out != "" {
				dir = filepath.Dir(out)
			}
			tmp, err := os.CreateTemp(dir, ".wpmctl-download-*")
			if err != nil {
				return fmt.Errorf("create temp file: %w", err)
			}
			defer os.Remove(tmp.Name())

			name, err := client.Download(cmd.Context(), args[0], tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if out == "" && name != "" {
				out = filepath.Base(name)
			}
			if out == "" {
				out = args[0] + "_normalized"
			}
			if err := os.Rename(tmp.Name(), out); err != nil {
				return fmt.Errorf("save %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", out)
			return nil
		},
	}
	c.Flags().StringP("file", "f", "", "输出文件路径 (默认使用服务端文件名)")
	return c
}
