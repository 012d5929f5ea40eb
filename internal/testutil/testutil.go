// Package testutil provides testing utilities for sketchround tests.
package testutil

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// PNG returns a small encoded grayscale image with a diagonal stroke, the
// kind of input the classifier expects.
func PNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 28, 28))
	for i := 0; i < 28; i++ {
		img.SetGray(i, i, color.Gray{Y: 255})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// WritePNG writes a PNG fixture into dir and returns its path.
func WritePNG(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PNG(t), 0644); err != nil {
		t.Fatalf("failed to write png fixture: %v", err)
	}
	return path
}

// Prediction is one entry of a fake predict response.
type Prediction struct {
	Label      string
	Confidence float64
}

// PredictRequest is a request received by the fake classifier.
type PredictRequest struct {
	Image []byte
	TopK  int
}

type reply struct {
	status int
	body   string
}

// FakeClassifier is an httptest server that speaks the classification
// service's wire format. Replies are consumed in order; once the queue is
// empty the last reply is repeated.
type FakeClassifier struct {
	Server *httptest.Server

	mu       sync.Mutex
	replies  []reply
	last     *reply
	requests []PredictRequest
	classes  []string
	healthy  bool
}

// NewFakeClassifier starts a fake classifier that is closed when the test ends.
func NewFakeClassifier(t *testing.T) *FakeClassifier {
	t.Helper()

	f := &FakeClassifier{
		classes: []string{"cat", "dog", "house"},
		healthy: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/predict/base64", f.handlePredict)
	mux.HandleFunc("/health", f.handleHealth)
	mux.HandleFunc("/classes", f.handleClasses)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake service.
func (f *FakeClassifier) URL() string {
	return f.Server.URL
}

// Respond queues a successful reply with the given predictions, in the order given.
func (f *FakeClassifier) Respond(predictions ...Prediction) {
	type wire struct {
		Label             string  `json:"label"`
		Confidence        float64 `json:"confidence"`
		ConfidencePercent string  `json:"confidence_percent"`
	}
	out := make([]wire, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, wire{
			Label:             p.Label,
			Confidence:        p.Confidence,
			ConfidencePercent: fmt.Sprintf("%.2f%%", p.Confidence*100),
		})
	}
	body, _ := json.Marshal(map[string]any{
		"predictions": out,
		"success":     true,
		"message":     fmt.Sprintf("Top %d predictions", len(out)),
	})
	f.RespondRaw(http.StatusOK, string(body))
}

// RespondRaw queues a reply with an arbitrary status and body.
func (f *FakeClassifier) RespondRaw(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{status: status, body: body})
}

// SetClasses sets the labels served by /classes.
func (f *FakeClassifier) SetClasses(classes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes = classes
}

// SetHealthy controls the model_loaded flag served by /health.
func (f *FakeClassifier) SetHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

// Requests returns the predict requests received so far.
func (f *FakeClassifier) Requests() []PredictRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PredictRequest(nil), f.requests...)
}

func (f *FakeClassifier) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Image string `json:"image"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail":"invalid json"}`, http.StatusUnprocessableEntity)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		http.Error(w, `{"detail":"invalid base64"}`, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, PredictRequest{Image: data, TopK: req.TopK})
	var rep reply
	switch {
	case len(f.replies) > 0:
		rep = f.replies[0]
		f.replies = f.replies[1:]
		f.last = &rep
	case f.last != nil:
		rep = *f.last
	default:
		rep = reply{status: http.StatusOK, body: `{"predictions":[],"success":true,"message":"no predictions"}`}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = w.Write([]byte(rep.body))
}

func (f *FakeClassifier) handleHealth(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	healthy := f.healthy
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "healthy",
		"model_loaded": healthy,
	})
}

func (f *FakeClassifier) handleClasses(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	classes := append([]string(nil), f.classes...)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"classes":     classes,
		"num_classes": len(classes),
	})
}
