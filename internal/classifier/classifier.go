// Package classifier wraps pre-trained image classifiers behind a single
// asynchronous-friendly interface: load a model once, then classify frames.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gocv.io/x/gocv"
)

// Sentinel errors.
var (
	// ErrNoLabels is returned when model metadata lists no class labels.
	ErrNoLabels = errors.New("classifier: model metadata has no labels")

	// ErrUnknownBackend is returned by NewLoader for an unsupported backend name.
	ErrUnknownBackend = errors.New("classifier: unknown backend")

	// ErrClosed is returned when classifying with a closed classifier.
	ErrClosed = errors.New("classifier: closed")
)

// Prediction is a single (label, confidence) pair. Confidence is in [0,1].
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Percent returns the confidence rounded to a whole percentage.
func (p Prediction) Percent() int {
	return int(math.Round(p.Confidence * 100))
}

// Classifier is a loaded model.
type Classifier interface {
	// Classify returns predictions for frame sorted by descending confidence.
	// An empty slice means the model produced no usable result.
	Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error)

	// Close releases any resources held by the classifier.
	Close() error
}

// Loader creates a Classifier from a model URL.
type Loader interface {
	Load(ctx context.Context, modelURL string) (Classifier, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, modelURL string) (Classifier, error)

// Load calls f(ctx, modelURL).
func (f LoaderFunc) Load(ctx context.Context, modelURL string) (Classifier, error) {
	return f(ctx, modelURL)
}

// LoadWithTimeout loads a model but gives up after timeout even if the
// loader ignores its context. A classifier that arrives late is closed.
func LoadWithTimeout(ctx context.Context, loader Loader, modelURL string, timeout time.Duration) (Classifier, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		c   Classifier
		err error
	}
	done := make(chan result, 1)

	go func() {
		c, err := loader.Load(ctx, modelURL)
		done <- result{c: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("load model %s: %w", modelURL, r.err)
		}
		return r.c, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, fmt.Errorf("load model %s: timeout after %s: %w", modelURL, timeout, ctx.Err())
	}
}

// Rank pairs scores with labels and sorts them by descending confidence.
// Scores without a label are dropped.
func Rank(labels []string, scores []float32) []Prediction {
	n := len(scores)
	if len(labels) < n {
		n = len(labels)
	}

	predictions := make([]Prediction, 0, n)
	for i := 0; i < n; i++ {
		predictions = append(predictions, Prediction{
			Label:      labels[i],
			Confidence: float64(scores[i]),
		})
	}

	SortByConfidence(predictions)
	return predictions
}

// SortByConfidence sorts predictions by descending confidence, keeping the
// original order between equal scores.
func SortByConfidence(predictions []Prediction) {
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})
}

// Softmax normalizes raw scores into probabilities. Scores that already sum
// to one are returned unchanged.
func Softmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return scores
	}

	var sum float64
	normalized := true
	for _, s := range scores {
		if s < 0 || s > 1 {
			normalized = false
		}
		sum += float64(s)
	}
	if normalized && math.Abs(sum-1) < 1e-3 {
		return scores
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float32, len(scores))
	var total float64
	for i, s := range scores {
		e := math.Exp(float64(s - maxScore))
		out[i] = float32(e)
		total += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / total)
	}
	return out
}
