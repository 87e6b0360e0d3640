package predictor

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TIANLI0/SegKit/codec"
	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newInferenceServer 模拟独立部署的推理服务
func newInferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/load", func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.ModelSize != "tiny" || req.Checkpoint.Checkpoint != "sam2_hiera_tiny.pt" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(remoteError{Detail: "unexpected checkpoint"})
			return
		}
		_ = json.NewEncoder(w).Encode(loadResponse{Device: "cuda"})
	})

	mux.HandleFunc("/v1/predict", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		img, err := png.Decode(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b := img.Bounds()

		var box [4]int
		if err := json.Unmarshal([]byte(r.FormValue("box")), &box); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("multimask_output") != "false" {
			http.Error(w, "box prompts expect a single mask", http.StatusBadRequest)
			return
		}

		m := model.NewMask(b.Dx(), b.Dy())
		m.FillRect(box[0], box[1], box[2], box[3])
		encoded, err := codec.EncodeMask(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(remoteMasksResponse{Masks: []remoteMask{{Mask: encoded, Score: 0.97}}})
	})

	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(remoteError{Detail: "CUDA out of memory"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRemote(t *testing.T, baseURL, size string) *RemotePredictor {
	t.Helper()
	p, err := NewRemotePredictor(
		&config.RemoteConfig{BaseURL: baseURL, Timeout: 5 * time.Second, LoadTimeout: 5 * time.Second},
		&config.ModelConfig{Size: size, Device: "auto"},
	)
	require.NoError(t, err)
	return p
}

func TestRemotePredictor(t *testing.T) {
	srv := newInferenceServer(t)
	p := newRemote(t, srv.URL, "tiny")
	img := model.NewRaster(40, 30)

	_, _, err := p.Predict(context.Background(), img, PredictInput{Box: &model.Box{X1: 0, Y1: 0, X2: 4, Y2: 4}})
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, p.Load(context.Background()))
	assert.Equal(t, "cuda", p.Device())

	t.Run("PredictBox", func(t *testing.T) {
		masks, scores, err := p.Predict(context.Background(), img, PredictInput{Box: &model.Box{X1: 5, Y1: 5, X2: 15, Y2: 10}})
		require.NoError(t, err)
		require.Len(t, masks, 1)
		assert.True(t, masks[0].SameSize(40, 30))
		assert.Equal(t, 50, masks[0].Area())
		assert.Equal(t, []float64{0.97}, scores)
	})

	t.Run("RemoteErrorDetail", func(t *testing.T) {
		_, err := p.GenerateEverything(context.Background(), img, config.Default().Everything)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CUDA out of memory")
		assert.Contains(t, err.Error(), "500")
	})

	require.NoError(t, p.Close())
	_, err = p.GenerateEverything(context.Background(), img, config.Default().Everything)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestRemotePredictorLoadFailure(t *testing.T) {
	srv := newInferenceServer(t)
	p := newRemote(t, srv.URL, "large")

	err := p.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected checkpoint")
	assert.Equal(t, "auto", p.Device())
}

func TestNewRemotePredictorValidation(t *testing.T) {
	_, err := NewRemotePredictor(&config.RemoteConfig{}, &config.ModelConfig{Size: "tiny"})
	assert.Error(t, err)

	_, err = NewRemotePredictor(&config.RemoteConfig{BaseURL: "http://localhost"}, &config.ModelConfig{Size: "huge"})
	assert.Error(t, err)
}
