//go:build gocv

package predictor

import (
	"context"
	"testing"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareRaster 暗色背景上的亮色方块
func squareRaster(w, h int) model.Raster {
	r := model.NewRaster(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(30)
			if x >= w/4 && x < 3*w/4 && y >= h/4 && y < 3*h/4 {
				v = 230
			}
			i := (y*w + x) * 3
			r.Pix[i], r.Pix[i+1], r.Pix[i+2] = v, v/2, 255-v
		}
	}
	return r
}

func TestGrabCutPredictor(t *testing.T) {
	p, err := NewGrabCutPredictor(&config.Default().GrabCut)
	require.NoError(t, err)
	require.NoError(t, p.Load(context.Background()))
	defer p.Close()

	img := squareRaster(96, 96)

	t.Run("Box", func(t *testing.T) {
		masks, scores, err := p.Predict(context.Background(), img, PredictInput{Box: &model.Box{X1: 16, Y1: 16, X2: 80, Y2: 80}})
		require.NoError(t, err)
		require.Len(t, masks, 1)
		require.Len(t, scores, 1)
		assert.True(t, masks[0].SameSize(96, 96))
		assert.Greater(t, masks[0].Area(), 0)
	})

	t.Run("Points", func(t *testing.T) {
		masks, _, err := p.Predict(context.Background(), img, PredictInput{
			Points:    []model.Point{{X: 48, Y: 48}},
			Multimask: true,
		})
		require.NoError(t, err)
		assert.Len(t, masks, 3)
	})

	t.Run("Everything", func(t *testing.T) {
		params := config.Default().Everything
		params.PredIoUThresh = 0
		cands, err := p.GenerateEverything(context.Background(), img, params)
		require.NoError(t, err)
		for _, c := range cands {
			assert.True(t, c.Mask.SameSize(96, 96))
		}
	})
}
