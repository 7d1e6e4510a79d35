package jobs

import "strings"

// SpeakerIDPrefix 与说话人标签拼接得到稳定的说话人 ID
const SpeakerIDPrefix = "speaker_"

// SpeakerIDFor 根据 ASR 返回的标签生成说话人 ID，例如 "A" -> "speaker_A"
func SpeakerIDFor(label string) string {
	return SpeakerIDPrefix + label
}

// Utterance ASR 返回的一段连续语音，Speaker 为 nil 表示未识别说话人
type Utterance struct {
	Speaker *string `json:"speaker"`
	Start   int64   `json:"start"`
	End     int64   `json:"end"`
	Text    string  `json:"text"`
}

// DurationMs 返回语音时长（毫秒）
func (u Utterance) DurationMs() int64 {
	return u.End - u.Start
}

// SpeakerWPM 单个说话人的平均语速统计
type SpeakerWPM struct {
	ID            string  `json:"id"`
	Label         string  `json:"label"`
	AvgWPM        int     `json:"avgWpm"`
	WordCount     int     `json:"wordCount"`
	TotalDuration float64 `json:"totalDuration"` // 秒
}

// Segment 时间线上的处理单元，SpeakerID 为 nil 时原样透传
type Segment struct {
	SpeakerID *string `json:"speakerId"`
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
}

// DurationMs 返回片段时长（毫秒），可能为非正数
func (s Segment) DurationMs() int64 {
	return s.End - s.Start
}

// Speaker 返回说话人 ID，无说话人时返回空字符串
func (s Segment) Speaker() string {
	if s.SpeakerID == nil {
		return ""
	}
	return *s.SpeakerID
}

// Target 用户为某个说话人指定的目标语速
type Target struct {
	SpeakerID string  `json:"speakerId"`
	TargetWPM float64 `json:"targetWpm"`
}

// TempoDecision 单个片段的速度决策，每次由 SpeakerWPM 与 Target 重新计算，不落库
type TempoDecision struct {
	Factor  float64 `json:"factor"`
	Stretch bool    `json:"stretch"`
}

// AnalyzeTask 分析任务载荷
type AnalyzeTask struct {
	JobID            string `json:"jobId"`
	FilePath         string `json:"filePath"`
	OriginalFilename string `json:"originalFilename"`
}

// AdjustTask 调速任务载荷，speakers 与 segments 由协调器从账本重新读取
type AdjustTask struct {
	JobID            string   `json:"jobId"`
	FilePath         string   `json:"filePath"`
	OriginalFilename string   `json:"originalFilename"`
	Targets          []Target `json:"targets"`
}

// StringPtr 返回 s 的指针，空白字符串返回 nil
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
