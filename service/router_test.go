package service

import (
	"context"
	"testing"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/predictor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrompt(t *testing.T) {
	t.Run("DefaultsToEverything", func(t *testing.T) {
		p, err := ParsePrompt("", "", "")
		require.NoError(t, err)
		assert.Equal(t, model.PromptEverything, p.Kind)
	})

	t.Run("Points", func(t *testing.T) {
		p, err := ParsePrompt(" Points ", "[[50,50],[10,20]]", "")
		require.NoError(t, err)
		assert.Equal(t, model.PromptPoints, p.Kind)
		assert.Equal(t, []model.Point{{X: 50, Y: 50}, {X: 10, Y: 20}}, p.Points)
	})

	t.Run("Boxes", func(t *testing.T) {
		p, err := ParsePrompt("boxes", "", "[[0,0,10,10],[5,5,20,20]]")
		require.NoError(t, err)
		assert.Equal(t, []model.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}, {X1: 5, Y1: 5, X2: 20, Y2: 20}}, p.Boxes)
	})

	invalid := []struct {
		name, mode, points, boxes string
	}{
		{"UnknownMode", "lasso", "", ""},
		{"PointsMissing", "points", "", ""},
		{"PointsEmpty", "points", "[]", ""},
		{"PointsNotJSON", "points", "50,50", ""},
		{"PointWrongArity", "points", "[[1,2,3]]", ""},
		{"BoxesMissing", "boxes", "", ""},
		{"BoxWrongArity", "boxes", "", "[[0,0,10]]"},
		{"BoxInverted", "boxes", "", "[[10,10,0,0]]"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePrompt(tc.mode, tc.points, tc.boxes)
			require.Error(t, err)
			assert.Equal(t, KindInvalidRequest, KindOf(err))
		})
	}
}

func loadedMock(t *testing.T) *predictor.MockPredictor {
	t.Helper()
	p := predictor.NewMockPredictor(&config.MockConfig{}, "cpu")
	require.NoError(t, p.Load(context.Background()))
	return p
}

func TestRouteBoxesKeepOrder(t *testing.T) {
	r := NewPromptRouter(config.Default().Everything)
	img := model.NewRaster(100, 100)
	boxes := []model.Box{
		{X1: 60, Y1: 60, X2: 90, Y2: 90},
		{X1: 0, Y1: 0, X2: 10, Y2: 20},
		{X1: 30, Y1: 10, X2: 40, Y2: 15},
	}

	cands, err := r.Route(context.Background(), loadedMock(t), img, model.Prompt{Kind: model.PromptBoxes, Boxes: boxes})
	require.NoError(t, err)
	require.Len(t, cands, len(boxes))

	assert.Equal(t, 900, cands[0].Mask.Area())
	assert.Equal(t, 200, cands[1].Mask.Area())
	assert.Equal(t, 50, cands[2].Mask.Area())
}

func TestRoutePoints(t *testing.T) {
	r := NewPromptRouter(config.Default().Everything)
	img := model.NewRaster(100, 100)

	cands, err := r.Route(context.Background(), loadedMock(t), img,
		model.Prompt{Kind: model.PromptPoints, Points: []model.Point{{X: 50, Y: 50}}})
	require.NoError(t, err)
	require.Len(t, cands, 3)
	for _, c := range cands {
		assert.True(t, c.Mask.Get(50, 50))
	}
}

// wrongSizePredictor 返回与图片尺寸不一致的掩码
type wrongSizePredictor struct {
	*predictor.MockPredictor
}

func (p wrongSizePredictor) GenerateEverything(ctx context.Context, img model.Raster, params model.GenerateParams) ([]model.MaskCandidate, error) {
	return []model.MaskCandidate{{Mask: model.NewMask(img.Width+1, img.Height), Score: 1}}, nil
}

func TestRouteRejectsMismatchedMask(t *testing.T) {
	r := NewPromptRouter(config.Default().Everything)
	_, err := r.Route(context.Background(), wrongSizePredictor{loadedMock(t)}, model.NewRaster(10, 10),
		model.Prompt{Kind: model.PromptEverything})
	require.Error(t, err)
	assert.Equal(t, KindInferenceFailure, KindOf(err))
}

func TestRouteWrapsPredictorError(t *testing.T) {
	r := NewPromptRouter(config.Default().Everything)
	unloaded := predictor.NewMockPredictor(&config.MockConfig{}, "cpu")

	_, err := r.Route(context.Background(), unloaded, model.NewRaster(10, 10),
		model.Prompt{Kind: model.PromptPoints, Points: []model.Point{{X: 1, Y: 1}}})
	require.Error(t, err)
	assert.Equal(t, KindInferenceFailure, KindOf(err))
	assert.ErrorIs(t, err, predictor.ErrNotLoaded)
}
