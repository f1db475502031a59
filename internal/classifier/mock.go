package classifier

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockClassifier is a test implementation of the Classifier interface.
// It allows tests to control the classification results.
type MockClassifier struct {
	mu          sync.Mutex
	predictions []Prediction
	err         error
	calls       int
	inFlight    int
	maxInFlight int
	// Block, if set, is received from before each Classify returns.
	Block chan struct{}
	// Started, if set, is sent to when a Classify call begins.
	Started chan struct{}
	closed  bool
}

// NewMockClassifier creates a new MockClassifier instance.
func NewMockClassifier(predictions ...Prediction) *MockClassifier {
	return &MockClassifier{predictions: predictions}
}

// SetPredictions sets the predictions that will be returned by Classify.
func (m *MockClassifier) SetPredictions(predictions ...Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = predictions
}

// SetError sets the error that will be returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Classify returns the pre-configured predictions or error.
func (m *MockClassifier) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	m.mu.Lock()
	m.calls++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	block, started := m.Block, m.Started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--

	if m.err != nil {
		return nil, m.err
	}
	return append([]Prediction(nil), m.predictions...), nil
}

// Calls returns how many times Classify was called.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MaxInFlight returns the highest number of concurrent Classify calls seen.
func (m *MockClassifier) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Closed reports whether Close was called.
func (m *MockClassifier) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock closed.
func (m *MockClassifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// StaticLoader returns a Loader that always yields c.
func StaticLoader(c Classifier) Loader {
	return LoaderFunc(func(ctx context.Context, modelURL string) (Classifier, error) {
		return c, nil
	})
}
