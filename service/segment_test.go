package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/TIANLI0/SegKit/codec"
	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/predictor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string]model.SegmentResponse
}

func (c *memoryCache) GetSegmentation(ctx context.Context, key string) (*model.SegmentResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *memoryCache) SetSegmentation(ctx context.Context, key string, result *model.SegmentResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = *result
	return nil
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSegmentService(t *testing.T, load bool, cache ResultCache) *SegmentService {
	t.Helper()
	return newSegmentServiceWithLimit(t, load, cache, 0)
}

func newSegmentServiceWithLimit(t *testing.T, load bool, cache ResultCache, maxPixels int) *SegmentService {
	t.Helper()
	cfg := config.Default()
	d := NewDispatcher(&cfg.Dispatcher)
	m := NewModelManager(predictor.NewMockPredictor(&cfg.Mock, "cpu"), d)
	t.Cleanup(func() {
		_ = d.Close()
		_ = m.Close()
	})
	if load {
		m.RequestLoad()
		require.Equal(t, model.PhaseReady, m.Wait(context.Background()).Phase)
	}
	return NewSegmentService(m, d, NewPromptRouter(cfg.Everything), NewMaskProcessor(&cfg.PostProcess), cache, maxPixels)
}

func TestSegmentNotReady(t *testing.T) {
	s := newSegmentService(t, false, nil)

	assert.ErrorIs(t, s.Ready(), ErrModelNotReady)
	_, err := s.Segment(context.Background(), SegmentRequest{Image: solidPNG(t, 10, 10)})
	assert.Equal(t, KindModelNotReady, KindOf(err))
}

func TestSegmentInvalidImage(t *testing.T) {
	s := newSegmentService(t, true, nil)

	_, err := s.Segment(context.Background(), SegmentRequest{Image: []byte("definitely not an image")})
	require.Error(t, err)
	assert.Equal(t, KindInvalidImage, KindOf(err))
	assert.Contains(t, err.Error(), "Invalid image data")
}

func TestSegmentRejectsOversizedImage(t *testing.T) {
	s := newSegmentServiceWithLimit(t, true, nil, 50*50)

	_, err := s.Segment(context.Background(), SegmentRequest{Image: solidPNG(t, 60, 60)})
	require.Error(t, err)
	assert.Equal(t, KindInvalidImage, KindOf(err))

	_, err = s.Segment(context.Background(), SegmentRequest{Image: solidPNG(t, 50, 50)})
	assert.NoError(t, err)
}

func TestSegmentPoints(t *testing.T) {
	s := newSegmentService(t, true, nil)

	resp, err := s.Segment(context.Background(), SegmentRequest{
		Image:  solidPNG(t, 100, 100),
		Mode:   "points",
		Points: "[[50,50]]",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "points", resp.Mode)
	assert.Equal(t, [2]int{100, 100}, resp.ImageShape)
	require.GreaterOrEqual(t, resp.NumMasks, 1)
	assert.Len(t, resp.Masks, resp.NumMasks)

	for i, m := range resp.Masks {
		assert.Equal(t, i, m.ID)
		assert.Greater(t, m.Area, 0)
		assert.LessOrEqual(t, m.Area, 100*100)

		decoded, err := codec.DecodeMask(m.Mask)
		require.NoError(t, err)
		assert.Equal(t, m.Area, decoded.Area())
	}
}

func TestSegmentBoxes(t *testing.T) {
	s := newSegmentService(t, true, nil)

	resp, err := s.Segment(context.Background(), SegmentRequest{
		Image: solidPNG(t, 80, 60),
		Mode:  "boxes",
		Boxes: "[[0,0,10,10],[20,20,40,50]]",
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.NumMasks)
	assert.Equal(t, [2]int{60, 80}, resp.ImageShape)
	assert.Equal(t, 100, resp.Masks[0].Area)
	assert.Equal(t, 600, resp.Masks[1].Area)
}

func TestSegmentEverything(t *testing.T) {
	s := newSegmentService(t, true, nil)

	resp, err := s.Segment(context.Background(), SegmentRequest{Image: solidPNG(t, 100, 100)})
	require.NoError(t, err)
	assert.Equal(t, "everything", resp.Mode)
	assert.LessOrEqual(t, resp.NumMasks, 25)
	require.NotZero(t, resp.NumMasks)

	masks := make([]model.Mask, 0, resp.NumMasks)
	for i, m := range resp.Masks {
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Masks[i-1].Score, m.Score)
		}
		decoded, err := codec.DecodeMask(m.Mask)
		require.NoError(t, err)
		masks = append(masks, decoded)
	}
	for i := range masks {
		for j := i + 1; j < len(masks); j++ {
			assert.LessOrEqual(t, model.IoU(masks[i], masks[j]), 0.6)
		}
	}
}

func TestSegmentInvalidPrompt(t *testing.T) {
	s := newSegmentService(t, true, nil)

	_, err := s.Segment(context.Background(), SegmentRequest{Image: solidPNG(t, 10, 10), Mode: "points"})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestSegmentCache(t *testing.T) {
	cache := &memoryCache{data: map[string]model.SegmentResponse{}}
	s := newSegmentService(t, true, cache)
	req := SegmentRequest{Image: solidPNG(t, 40, 40), Mode: "boxes", Boxes: "[[0,0,5,5]]"}

	first, err := s.Segment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := s.Segment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Masks, second.Masks)
}

func TestEncodeResultsMarksFailures(t *testing.T) {
	good := model.NewMask(4, 4)
	good.FillRect(0, 0, 2, 2)
	broken := model.Mask{Width: 4, Height: 4, Bits: make([]bool, 3)}

	out := EncodeResults([]model.MaskCandidate{{Mask: good, Score: 0.9}, {Mask: broken, Score: 0.5}})
	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].Mask)
	assert.Empty(t, out[0].Error)
	assert.Equal(t, 1, out[1].ID)
	assert.Empty(t, out[1].Mask)
	assert.Equal(t, "mask encoding failed", out[1].Error)
}
