// ABOUTME: Tests for the vision adapter against fake media and inference servers
// ABOUTME: Covers ranking, truncation, confidence floor, label cleanup and failures

package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newVisionServer serves a fake photo at /media/leaf.jpg and the given
// inference response at /model.
func newVisionServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var modelCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/media/leaf.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\xff\xd8\xff fake jpeg"))
	})
	mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
		modelCalls.Add(1)
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, "\xff\xd8\xff fake jpeg", string(data))
		assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &modelCalls
}

func TestVisionAdapter_RanksAndTruncates(t *testing.T) {
	srv, _ := newVisionServer(t, http.StatusOK, `[
		{"label":"Corn_(maize)___Common_rust","score":0.05},
		{"label":"Corn_(maize)___Northern_Leaf_Blight","score":0.873},
		{"label":"healthy","score":0.01},
		{"label":"Corn_(maize)___Cercospora_leaf_spot","score":0.066}
	]`)

	v := NewVisionAdapter(VisionConfig{ModelURL: srv.URL + "/model", APIToken: "hf-token"}, srv.Client(), discardLogger())
	det, err := v.Invoke(context.Background(), VisionRequest{FarmerID: "f1", MediaURL: srv.URL + "/media/leaf.jpg"})
	require.NoError(t, err)

	assert.Equal(t, "Corn (maize) Northern Leaf Blight", det.Label)
	assert.InDelta(t, 0.873, det.Confidence, 1e-9)
	assert.False(t, det.LowConfidence)
	require.Len(t, det.Differential, 3)
	assert.Equal(t, det.Label, det.Differential[0].Label)
	assert.Equal(t, "Corn (maize) Cercospora Leaf Spot", det.Differential[1].Label)
	assert.Equal(t, "Corn (maize) Common Rust", det.Differential[2].Label)
	for i := 1; i < len(det.Differential); i++ {
		assert.GreaterOrEqual(t, det.Differential[i-1].Confidence, det.Differential[i].Confidence)
	}
}

func TestVisionAdapter_LowConfidence(t *testing.T) {
	srv, _ := newVisionServer(t, http.StatusOK, `[{"label":"Coffee leaf rust","score":0.31},{"label":"healthy","score":0.29}]`)

	v := NewVisionAdapter(VisionConfig{ModelURL: srv.URL + "/model", APIToken: "hf-token"}, srv.Client(), discardLogger())
	det, err := v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg"})
	require.NoError(t, err)
	assert.True(t, det.LowConfidence)
	assert.Equal(t, "Coffee Leaf Rust", det.Label)
}

func TestVisionAdapter_ConfiguredFloor(t *testing.T) {
	srv, _ := newVisionServer(t, http.StatusOK, `[{"label":"rust","score":0.55}]`)

	v := NewVisionAdapter(VisionConfig{ModelURL: srv.URL + "/model", APIToken: "hf-token", ConfidenceFloor: 0.6}, srv.Client(), discardLogger())
	det, err := v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg"})
	require.NoError(t, err)
	assert.True(t, det.LowConfidence)
}

func TestVisionAdapter_ModelLoadingIsTransient(t *testing.T) {
	srv, calls := newVisionServer(t, http.StatusServiceUnavailable, `{"error":"Model is currently loading","estimated_time":20}`)

	v := NewVisionAdapter(VisionConfig{ModelURL: srv.URL + "/model", APIToken: "hf-token", Policy: Policy{MaxRetries: 1}}, srv.Client(), discardLogger())
	_, err := v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg"})
	assert.True(t, IsKind(err, KindUnavailable), "got %v", err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVisionAdapter_EmptyPredictions(t *testing.T) {
	srv, _ := newVisionServer(t, http.StatusOK, `[]`)

	v := NewVisionAdapter(VisionConfig{ModelURL: srv.URL + "/model", APIToken: "hf-token"}, srv.Client(), discardLogger())
	_, err := v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg"})
	assert.True(t, IsKind(err, KindMalformedResponse), "got %v", err)
}

func TestVisionAdapter_MissingMedia(t *testing.T) {
	srv, calls := newVisionServer(t, http.StatusOK, `[]`)

	v := NewVisionAdapter(VisionConfig{ModelURL: srv.URL + "/model", APIToken: "hf-token"}, srv.Client(), discardLogger())
	_, err := v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/missing.jpg"})
	assert.True(t, IsKind(err, KindMalformedResponse), "got %v", err)
	assert.Equal(t, int32(0), calls.Load())

	_, err = v.Invoke(context.Background(), VisionRequest{})
	assert.True(t, IsKind(err, KindMalformedResponse))
}

func TestNewDetection_ClampsScores(t *testing.T) {
	det := newDetection([]Candidate{{Label: "a", Confidence: 1.7}, {Label: "b", Confidence: -0.2}, {Label: "", Confidence: 0.9}}, 0.4)
	assert.Equal(t, "a", det.Label)
	assert.Equal(t, 1.0, det.Confidence)
	require.Len(t, det.Differential, 2)
	assert.Equal(t, 0.0, det.Differential[1].Confidence)
}

func TestCleanLabel(t *testing.T) {
	assert.Equal(t, "Coffee Leaf Rust", cleanLabel("coffee_leaf_rust"))
	assert.Equal(t, "Corn (maize) Healthy", cleanLabel("Corn_(maize)___healthy"))
	assert.Equal(t, "Northern Corn Leaf Blight", cleanLabel("Northern Corn Leaf Blight"))
}

func TestNewDetection_FloorBoundary(t *testing.T) {
	below := newDetection([]Candidate{{Label: "rust", Confidence: 0.399}}, DefaultConfidenceFloor)
	assert.True(t, below.LowConfidence)

	at := newDetection([]Candidate{{Label: "rust", Confidence: 0.4}}, DefaultConfidenceFloor)
	assert.False(t, at.LowConfidence)
}

func TestVisionAdapter_MaizeModel(t *testing.T) {
	var general, maize atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/media/leaf.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\xff\xd8\xff fake jpeg"))
	})
	mux.HandleFunc("/general", func(w http.ResponseWriter, r *http.Request) {
		general.Add(1)
		_, _ = w.Write([]byte(`[{"label":"Coffee_leaf_rust","score":0.8}]`))
	})
	mux.HandleFunc("/maize", func(w http.ResponseWriter, r *http.Request) {
		maize.Add(1)
		_, _ = w.Write([]byte(`[{"label":"Northern_Leaf_Blight","score":0.9}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	v := NewVisionAdapter(VisionConfig{
		ModelURL:      srv.URL + "/general",
		MaizeModelURL: srv.URL + "/maize",
	}, srv.Client(), discardLogger())

	det, err := v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg", Crop: "maize"})
	require.NoError(t, err)
	assert.Equal(t, "Northern Leaf Blight", det.Label)

	det, err = v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg", Crop: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, "Coffee Leaf Rust", det.Label)

	_, err = v.Invoke(context.Background(), VisionRequest{MediaURL: srv.URL + "/media/leaf.jpg"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), maize.Load())
	assert.Equal(t, int32(2), general.Load())
}
