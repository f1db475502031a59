package classifier

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DNNLoader loads ONNX image models into OpenCV's DNN module.
type DNNLoader struct {
	Client *http.Client
	Logger *zap.Logger
}

// Load downloads metadata.json and model.onnx from modelURL.
func (l *DNNLoader) Load(ctx context.Context, modelURL string) (Classifier, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	meta, err := FetchMetadata(ctx, client, modelURL)
	if err != nil {
		return nil, err
	}

	model, err := fetch(ctx, client, modelURL, ModelONNX)
	if err != nil {
		return nil, err
	}

	net, err := gocv.ReadNetFromONNXBytes(model)
	if err != nil {
		return nil, fmt.Errorf("read onnx model: %w", err)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("read onnx model: empty network")
	}

	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger.Named("dnn").Info("model loaded",
		zap.String("url", modelURL),
		zap.Strings("labels", meta.Labels),
		zap.Int("image_size", meta.ImageSize),
	)

	return &DNN{
		net:    &net,
		labels: meta.Labels,
		size:   image.Pt(meta.ImageSize, meta.ImageSize),
	}, nil
}

// DNN classifies frames with an OpenCV DNN network.
type DNN struct {
	mu     sync.Mutex
	net    *gocv.Net
	labels []string
	size   image.Point
}

// Classify implements Classifier.
func (d *DNN) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.net == nil {
		return nil, ErrClosed
	}

	// Scale pixels to [0,1], BGR to RGB, no crop.
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, d.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	scores, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}

	// Copy out of the Mat before it is closed.
	probs := Softmax(append([]float32(nil), scores...))
	return Rank(d.labels, probs), nil
}

// Close implements Classifier.
func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.net == nil {
		return nil
	}
	err := d.net.Close()
	d.net = nil
	return err
}
