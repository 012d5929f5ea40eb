package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/sketchround/internal/errors"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Default endpoint paths of the classification service.
const (
	DefaultPredictPath = "/predict/base64"
	DefaultHealthPath  = "/health"
	DefaultClassesPath = "/classes"
	DefaultTopK        = 3
)

// HTTPClient is a Client for the JSON/HTTP classification service.
type HTTPClient struct {
	url         *url.URL
	client      *http.Client
	predictPath string
	healthPath  string
	classesPath string
	topK        int
	now         func() time.Time
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets the underlying *http.Client. A nil client keeps the default.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTopK sets how many candidates are requested per attempt.
func WithTopK(k int) Option {
	return func(c *HTTPClient) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithPaths overrides the endpoint paths. Empty values keep the defaults.
func WithPaths(predict, health, classes string) Option {
	return func(c *HTTPClient) {
		if predict != "" {
			c.predictPath = predict
		}
		if health != "" {
			c.healthPath = health
		}
		if classes != "" {
			c.classesPath = classes
		}
	}
}

// WithClock sets the time source used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewHTTPClient creates a client for the service rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.NewValidationError("classifier url must be absolute").
			WithField("base_url").WithValue(baseURL)
	}

	c := &HTTPClient{
		url:         u,
		client:      http.DefaultClient,
		predictPath: DefaultPredictPath,
		healthPath:  DefaultHealthPath,
		classesPath: DefaultClassesPath,
		topK:        DefaultTopK,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the absolute predict URL.
func (c *HTTPClient) Endpoint() string {
	return c.url.JoinPath(c.predictPath).String()
}

type predictRequest struct {
	Image string `json:"image"`
	TopK  int    `json:"top_k"`
}

type wirePrediction struct {
	Label             string  `json:"label"`
	Class             string  `json:"class"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent string  `json:"confidence_percent"`
}

type predictResponse struct {
	Predictions *[]wirePrediction `json:"predictions"`
	Success     *bool             `json:"success"`
	Message     string            `json:"message"`
}

var errEmptySnapshot = errors.New("snapshot has no image data")

// Classify encodes the snapshot, posts it to the predict endpoint and returns
// the candidates sorted by descending confidence.
func (c *HTTPClient) Classify(ctx context.Context, snapshot Snapshot) (*PredictionSet, error) {
	if snapshot.Empty() {
		return nil, errors.NewTransportError("capture", errors.Join(errors.ErrCaptureFailed, errEmptySnapshot))
	}

	body, err := json.Marshal(predictRequest{
		Image: base64.StdEncoding.EncodeToString(snapshot.Data),
		TopK:  c.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.Endpoint()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return nil, errors.NewTransportError(endpoint, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.NewTransportError(endpoint, fmt.Errorf("read response body: %w", err))
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, errors.NewProtocolError("unexpected status", response.StatusCode).WithBody(string(raw))
	}

	var resp predictResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.NewProtocolError("malformed response body", response.StatusCode).
			WithBody(string(raw)).WithCause(err)
	}

	if resp.Success != nil && !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "service reported failure"
		}
		return nil, errors.NewProtocolError(msg, response.StatusCode)
	}
	if resp.Predictions == nil {
		return nil, errors.NewProtocolError("response has no predictions field", response.StatusCode).
			WithBody(string(raw))
	}

	candidates, err := parseCandidates(*resp.Predictions)
	if err != nil {
		return nil, errors.NewProtocolError("invalid prediction", response.StatusCode).WithCause(err)
	}
	if len(candidates) == 0 {
		return nil, errors.ErrEmptyResult
	}

	return &PredictionSet{
		Candidates: candidates,
		ReceivedAt: c.now(),
		Message:    resp.Message,
	}, nil
}

// parseCandidates validates wire predictions and orders them by descending
// confidence. The sort is stable so equal confidences keep service order.
func parseCandidates(predictions []wirePrediction) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(predictions))
	for i, p := range predictions {
		label := p.Label
		if label == "" {
			label = p.Class
		}
		if strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("prediction %d has no label", i)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return nil, fmt.Errorf("prediction %d confidence %v outside [0,1]", i, p.Confidence)
		}
		percent := p.ConfidencePercent
		if percent == "" {
			percent = FormatPercent(p.Confidence)
		}
		candidates = append(candidates, Candidate{
			Label:             label,
			Confidence:        p.Confidence,
			ConfidencePercent: percent,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates, nil
}

// HealthStatus is the service's liveness report.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Healthy reports whether the service is up with its model loaded.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy" && h.ModelLoaded
}

// Health queries the service's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.getJSON(ctx, c.healthPath, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

type classesResponse struct {
	Classes    []string `json:"classes"`
	NumClasses int      `json:"num_classes"`
}

// Classes returns the labels the service's model can produce.
func (c *HTTPClient) Classes(ctx context.Context) ([]string, error) {
	var resp classesResponse
	if err := c.getJSON(ctx, c.classesPath, &resp); err != nil {
		return nil, err
	}
	if len(resp.Classes) == 0 {
		return nil, errors.ErrEmptyResult
	}
	return resp.Classes, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	endpoint := c.url.JoinPath(path).String()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return errors.NewTransportError(endpoint, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return errors.NewTransportError(endpoint, fmt.Errorf("read response body: %w", err))
	}
	if response.StatusCode != http.StatusOK {
		return errors.NewProtocolError("unexpected status", response.StatusCode).WithBody(string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewProtocolError("malformed response body", response.StatusCode).
			WithBody(string(raw)).WithCause(err)
	}
	return nil
}
