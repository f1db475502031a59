package classifier

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ONNX runtime tensor names used by exported image models.
const (
	onnxInputName  = "input"
	onnxOutputName = "output"
)

var ortInit sync.Once
var ortInitErr error

// ONNXLoader loads models into onnxruntime.
type ONNXLoader struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default.
	LibraryPath string
	InputName   string
	OutputName  string
	Client      *http.Client
	Logger      *zap.Logger
}

func (l *ONNXLoader) initEnvironment() error {
	ortInit.Do(func() {
		if l.LibraryPath != "" {
			ort.SetSharedLibraryPath(l.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Load downloads metadata.json and model.onnx from modelURL and builds a session.
func (l *ONNXLoader) Load(ctx context.Context, modelURL string) (Classifier, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inputName, outputName := l.InputName, l.OutputName
	if inputName == "" {
		inputName = onnxInputName
	}
	if outputName == "" {
		outputName = onnxOutputName
	}

	if err := l.initEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	meta, err := FetchMetadata(ctx, client, modelURL)
	if err != nil {
		return nil, err
	}

	model, err := fetch(ctx, client, modelURL, ModelONNX)
	if err != nil {
		return nil, err
	}

	size := int64(meta.ImageSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(meta.Labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(model,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	logger.Named("onnx").Info("model loaded",
		zap.String("url", modelURL),
		zap.Strings("labels", meta.Labels),
		zap.Int("image_size", meta.ImageSize),
	)

	return &ONNX{
		session: session,
		input:   input,
		output:  output,
		labels:  meta.Labels,
		size:    uint(meta.ImageSize),
	}, nil
}

// ONNX classifies frames with an onnxruntime session.
type ONNX struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	size    uint
}

// Classify implements Classifier.
func (o *ONNX) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil, ErrClosed
	}

	fillCHW(o.input.GetData(), img, o.size)

	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := append([]float32(nil), o.output.GetData()...)
	return Rank(o.labels, Softmax(scores)), nil
}

// Close implements Classifier.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil
	}
	o.input.Destroy()
	o.output.Destroy()
	err := o.session.Destroy()
	o.session = nil
	return err
}

// fillCHW resizes img to size x size and writes it into dst as planar RGB
// scaled to [0,1].
func fillCHW(dst []float32, img image.Image, size uint) {
	resized := resize.Resize(size, size, img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			if 2*plane+i >= len(dst) {
				return
			}
			dst[i] = float32(r) / 65535.0
			dst[plane+i] = float32(g) / 65535.0
			dst[2*plane+i] = float32(b) / 65535.0
		}
	}
}
