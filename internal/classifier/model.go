package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Model file names inside an exported model directory.
const (
	ModelJSON        = "model.json"
	MetadataJSON     = "metadata.json"
	ModelONNX        = "model.onnx"
	DefaultImageSize = 224
)

// maxModelBytes bounds downloads of model files.
const maxModelBytes = 256 << 20

// Metadata describes an exported image model.
type Metadata struct {
	Labels    []string `json:"labels"`
	ImageSize int      `json:"imageSize"`
	ModelName string   `json:"modelName,omitempty"`
}

// HTTPError is returned when a model host answers with a non-200 status.
type HTTPError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("classifier: GET %s: status %d", e.URL, e.StatusCode)
}

// ModelFileURL returns the URL of file inside the model directory at base.
// A base with or without a trailing slash is accepted, and a base that
// already names file is returned unchanged.
func ModelFileURL(base, file string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("classifier: empty model URL")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("classifier: parse model URL: %w", err)
	}

	if strings.HasSuffix(u.Path, "/"+file) || u.Path == file {
		return u.String(), nil
	}

	// A URL naming a sibling file (e.g. model.json) points at its directory.
	if i := strings.LastIndex(u.Path, "/"); i >= 0 && strings.Contains(u.Path[i+1:], ".") {
		u.Path = u.Path[:i+1]
	}

	return u.JoinPath(file).String(), nil
}

// fetch downloads the file named file from the model directory at base.
func fetch(ctx context.Context, client *http.Client, base, file string) ([]byte, error) {
	target, err := ModelFileURL(base, file)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: target}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}

// FetchMetadata downloads and validates metadata.json from the model directory.
func FetchMetadata(ctx context.Context, client *http.Client, base string) (*Metadata, error) {
	data, err := fetch(ctx, client, base, MetadataJSON)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataJSON, err)
	}
	if len(meta.Labels) == 0 {
		return nil, ErrNoLabels
	}
	if meta.ImageSize <= 0 {
		meta.ImageSize = DefaultImageSize
	}
	return &meta, nil
}
