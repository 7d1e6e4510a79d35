package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidData 账本中的结构化字段无法通过校验
var ErrInvalidData = errors.New("invalid job data")

func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidData)
	}
	return nil
}

// EncodeJSON 将结构化字段编码为账本中存储的 JSON 字符串
func EncodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSpeakers 解析并校验 speakers 字段
func DecodeSpeakers(raw string) ([]SpeakerWPM, error) {
	var speakers []SpeakerWPM
	if err := decodeStrict(raw, &speakers); err != nil {
		return nil, fmt.Errorf("speakers: %w", err)
	}
	if err := ValidateSpeakers(speakers); err != nil {
		return nil, err
	}
	return speakers, nil
}

// ValidateSpeakers 检查说话人 ID 唯一且统计值非负
func ValidateSpeakers(speakers []SpeakerWPM) error {
	seen := make(map[string]struct{}, len(speakers))
	for i, s := range speakers {
		if s.ID == "" {
			return fmt.Errorf("%w: speakers[%d] has empty id", ErrInvalidData, i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate speaker id %s", ErrInvalidData, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.AvgWPM < 0 || s.WordCount < 0 || s.TotalDuration < 0 {
			return fmt.Errorf("%w: speakers[%d] has negative statistics", ErrInvalidData, i)
		}
	}
	return nil
}

// DecodeSegments 解析并校验 diarizationSegments 字段。
// 非正时长的片段是合法数据，由片段处理器跳过。
func DecodeSegments(raw string) ([]Segment, error) {
	var segments []Segment
	if err := decodeStrict(raw, &segments); err != nil {
		return nil, fmt.Errorf("diarizationSegments: %w", err)
	}
	if err := ValidateSegments(segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// ValidateSegments 检查时间非负且起点不递减
func ValidateSegments(segments []Segment) error {
	var prev int64
	for i, s := range segments {
		if s.Start < 0 || s.End < 0 {
			return fmt.Errorf("%w: segments[%d] has negative time", ErrInvalidData, i)
		}
		if i > 0 && s.Start < prev {
			return fmt.Errorf("%w: segments[%d] starts before previous segment", ErrInvalidData, i)
		}
		prev = s.Start
	}
	return nil
}

// DecodeTargets 解析并校验 targets 字段
func DecodeTargets(raw string) ([]Target, error) {
	var targets []Target
	if err := decodeStrict(raw, &targets); err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// ValidateTargets 要求目标语速为有限正数，且每个说话人只出现一次。
// 未出现在 speakers 中的 ID 是允许的，调速时按 1.0 处理。
func ValidateTargets(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if t.SpeakerID == "" {
			return fmt.Errorf("%w: targets[%d] has empty speakerId", ErrInvalidData, i)
		}
		if t.TargetWPM <= 0 || math.IsNaN(t.TargetWPM) || math.IsInf(t.TargetWPM, 0) {
			return fmt.Errorf("%w: targets[%d] targetWpm must be positive", ErrInvalidData, i)
		}
		if _, dup := seen[t.SpeakerID]; dup {
			return fmt.Errorf("%w: duplicate target for %s", ErrInvalidData, t.SpeakerID)
		}
		seen[t.SpeakerID] = struct{}{}
	}
	return nil
}
