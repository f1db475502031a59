package classifier

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Backend names accepted by NewLoader.
const (
	BackendDNN        = "dnn"
	BackendONNX       = "onnx"
	BackendSubprocess = "subprocess"
	BackendRemote     = "remote"
)

// LoaderConfig holds settings for every backend; each backend reads only
// the fields it needs.
type LoaderConfig struct {
	Backend           string
	ONNXLibraryPath   string
	SubprocessCommand []string
	Client            *http.Client
	Logger            *zap.Logger
}

// NewLoader returns the Loader for cfg.Backend.
func NewLoader(cfg LoaderConfig) (Loader, error) {
	switch cfg.Backend {
	case BackendDNN, "":
		return &DNNLoader{Client: cfg.Client, Logger: cfg.Logger}, nil
	case BackendONNX:
		return &ONNXLoader{LibraryPath: cfg.ONNXLibraryPath, Client: cfg.Client, Logger: cfg.Logger}, nil
	case BackendSubprocess:
		return &SubprocessLoader{Command: cfg.SubprocessCommand, Logger: cfg.Logger}, nil
	case BackendRemote:
		return &RemoteLoader{Client: cfg.Client, Logger: cfg.Logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
