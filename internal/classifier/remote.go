package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Remote service endpoints.
const (
	remoteHealthPath  = "/health"
	remotePredictPath = "/predict/image"
)

// RemoteLoader connects to an HTTP classification service that accepts an
// uploaded image and answers with per-class scores.
type RemoteLoader struct {
	Client *http.Client
	Logger *zap.Logger
}

// Load checks the service health endpoint and returns a Remote classifier.
func (l *RemoteLoader) Load(ctx context.Context, modelURL string) (Classifier, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimSuffix(modelURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+remoteHealthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: base + remoteHealthPath}
	}

	logger.Named("remote").Info("classification service reachable", zap.String("url", base))

	return &Remote{client: client, baseURL: base}, nil
}

// Remote classifies frames by uploading them to a classification service.
type Remote struct {
	client  *http.Client
	baseURL string
}

type remoteResponse struct {
	Class       string             `json:"class"`
	Confidence  float64            `json:"confidence"`
	Predictions map[string]float64 `json:"predictions"`
}

// Classify implements Classifier.
func (r *Remote) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	target := r.baseURL + remotePredictPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: target}
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.toPredictions(), nil
}

func (r remoteResponse) toPredictions() []Prediction {
	predictions := make([]Prediction, 0, len(r.Predictions))
	for label, confidence := range r.Predictions {
		predictions = append(predictions, Prediction{Label: label, Confidence: confidence})
	}
	if len(predictions) == 0 && r.Class != "" {
		predictions = append(predictions, Prediction{Label: r.Class, Confidence: r.Confidence})
	}

	// Map order is random; break ties by label so results are stable.
	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Confidence != predictions[j].Confidence {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		return predictions[i].Label < predictions[j].Label
	})
	return predictions
}

// Close implements Classifier.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
