package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
	"github.com/houzhh15/wpmnorm/pkg/wpm"
)

func newWPMCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wpm <transcript.json>",
		Short: "离线计算转写稿中各说话人的平均语速",
		Long:  "输入为 utterance 数组，或包含 utterances 字段的 ASR 转写结果。",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			utterances, err := decodeUtterances(data)
			if err != nil {
				return err
			}
			return printSpeakers(cmd.OutOrStdout(), cfg.Output, wpm.Calculate(utterances))
		},
	}
}

// decodeUtterances 同时接受裸数组与 {"utterances": [...]} 两种格式
func decodeUtterances(data []byte) ([]jobs.Utterance, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var utts []jobs.Utterance
		if err := json.Unmarshal(data, &utts); err != nil {
			return nil, fmt.Errorf("parse transcript: %w", err)
		}
		return utts, nil
	}
	var doc struct {
		Utterances []jobs.Utterance `json:"utterances"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return doc.Utterances, nil
}
