package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// printOutput 按指定格式输出响应数据
func printOutput(w io.Writer, format string, data []byte) error {
	if format == "json" {
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			// 非 JSON 数据直接输出
			_, err = fmt.Fprintln(w, string(data))
			return err
		}
		_, err := fmt.Fprintln(w, out.String())
		return err
	}
	_, err := fmt.Fprintln(w, string(data))
	return err
}

// printSpeakers 以表格形式输出说话人语速，json 模式输出数组
func printSpeakers(w io.Writer, format string, speakers []jobs.SpeakerWPM) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(speakers)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPEAKER\tWPM\tWORDS\tSECONDS")
	for _, s := range speakers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\n", s.ID, s.AvgWPM, s.WordCount, s.TotalDuration)
	}
	return tw.Flush()
}
