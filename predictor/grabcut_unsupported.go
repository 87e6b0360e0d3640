//go:build !gocv

package predictor

import (
	"errors"

	"github.com/TIANLI0/SegKit/config"
)

// NewGrabCutPredictor 未启用gocv构建标签时不可用
func NewGrabCutPredictor(cfg *config.GrabCutConfig) (Predictor, error) {
	return nil, errors.New("grabcut backend requires building with -tags gocv (OpenCV 4)")
}
