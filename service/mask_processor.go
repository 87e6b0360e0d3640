package service

import (
	"sort"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
)

// MaskProcessor 对everything模式的候选掩码去重并排序
type MaskProcessor struct {
	iouThreshold float64
	maxMasks     int
}

func NewMaskProcessor(cfg *config.PostProcessConfig) *MaskProcessor {
	threshold := cfg.IoUThreshold
	if threshold <= 0 {
		threshold = 0.6
	}
	maxMasks := cfg.MaxMasks
	if maxMasks <= 0 {
		maxMasks = 25
	}
	return &MaskProcessor{iouThreshold: threshold, maxMasks: maxMasks}
}

// Suppress 贪心IoU抑制：按分数降序（同分保持输入顺序），
// 与已保留掩码的最大IoU超过阈值则丢弃，最后截断到 maxMasks
func (mp *MaskProcessor) Suppress(cands []model.MaskCandidate) []model.MaskCandidate {
	if len(cands) == 0 {
		return nil
	}

	sorted := make([]model.MaskCandidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	accepted := make([]model.MaskCandidate, 0, min(len(sorted), mp.maxMasks))
	for _, c := range sorted {
		if len(accepted) == mp.maxMasks {
			break
		}
		if mp.overlaps(c.Mask, accepted) {
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted
}

func (mp *MaskProcessor) overlaps(m model.Mask, accepted []model.MaskCandidate) bool {
	for _, a := range accepted {
		if model.IoU(m, a.Mask) > mp.iouThreshold {
			return true
		}
	}
	return false
}
