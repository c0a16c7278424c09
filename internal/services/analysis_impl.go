package services

import (
	"context"
	"math"
	"time"

	"poolguard/internal/pipeline"
)

// AnalysisResult is the latest hazard result without its image
type AnalysisResult struct {
	Children     []pipeline.Child      `json:"children"`
	WarningLevel pipeline.WarningLevel `json:"warningLevel"`
	Level        string                `json:"level"`
	MinDistance  *float64              `json:"minDistance,omitempty"`
	FrameSeq     uint64                `json:"frameSeq"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// AnalysisImplementation implements the analysis service
type AnalysisImplementation struct {
	slot *pipeline.ResultSlot
}

// NewAnalysisService creates a new analysis service implementation
func NewAnalysisService(slot *pipeline.ResultSlot) *AnalysisImplementation {
	return &AnalysisImplementation{slot: slot}
}

// Latest returns the most recently published result, or false before the
// first one
func (a *AnalysisImplementation) Latest(ctx context.Context) (*AnalysisResult, bool) {
	value, ok := a.slot.Latest()
	if !ok || value.Result == nil {
		return nil, false
	}

	result := &AnalysisResult{
		Children:     value.Result.Children,
		WarningLevel: value.Result.WarningLevel,
		Level:        value.Result.WarningLevel.String(),
		FrameSeq:     value.FrameSeq,
		UpdatedAt:    value.UpdatedAt,
	}
	if result.Children == nil {
		result.Children = []pipeline.Child{}
	}
	if d := value.Result.MinDistance(); !math.IsInf(d, 0) {
		result.MinDistance = &d
	}
	return result, true
}
