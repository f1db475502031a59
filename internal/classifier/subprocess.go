package classifier

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// SubprocessLoader starts an external classification service, for example a
// Python script running the exported Teachable Machine model.
//
// Protocol: the service is started as `Command... <model.json URL>`. Once the
// model is loaded it prints one JSON line {"ready":true}. For every frame it
// receives a 4-byte big-endian length followed by JPEG bytes on stdin and
// answers with one JSON line {"predictions":[{"label":..,"confidence":..}]}
// or {"error":"..."}.
type SubprocessLoader struct {
	Command []string
	// RequestTimeout bounds one frame round trip; zero means
	// DefaultRequestTimeout. A service that misses it is killed.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// DefaultRequestTimeout bounds a subprocess frame round trip.
const DefaultRequestTimeout = 5 * time.Second

type serviceLine struct {
	Ready       bool         `json:"ready"`
	Error       string       `json:"error"`
	Predictions []Prediction `json:"predictions"`
}

// Load starts the service and waits for its ready line or ctx to end.
func (l *SubprocessLoader) Load(ctx context.Context, modelURL string) (Classifier, error) {
	if len(l.Command) == 0 {
		return nil, errors.New("classifier: no subprocess command configured")
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	modelJSON, err := ModelFileURL(modelURL, ModelJSON)
	if err != nil {
		return nil, err
	}

	args := append(append([]string(nil), l.Command[1:]...), modelJSON)
	cmd := exec.Command(l.Command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start classification service: %w", err)
	}

	timeout := l.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s := &Subprocess{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		timeout: timeout,
		logger:  logger.Named("subprocess"),
	}

	ready := make(chan error, 1)
	go func() {
		line, err := s.readLine()
		switch {
		case err != nil:
			ready <- err
		case line.Error != "":
			ready <- errors.New(line.Error)
		case !line.Ready:
			ready <- errors.New("classification service did not report ready")
		default:
			ready <- nil
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("classification service: %w", err)
		}
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	s.logger.Info("classification service ready",
		zap.String("command", strings.Join(l.Command, " ")),
		zap.String("model", modelJSON),
	)
	return s, nil
}

// Subprocess classifies frames through an external service.
type Subprocess struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	timeout time.Duration
	logger  *zap.Logger
	broken  error
}

// ErrServiceUnresponsive is returned by every Classify after a request was
// abandoned because its context ended before the service answered.
var ErrServiceUnresponsive = errors.New("classifier: classification service unresponsive")

// Classify implements Classifier.
func (s *Subprocess) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// The request may outlive buf if the service stops answering.
	data := append([]byte(nil), buf.GetBytes()...)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil, ErrClosed
	}
	if s.broken != nil {
		return nil, s.broken
	}

	done := make(chan reply, 1)
	go func() {
		line, err := s.exchange(data)
		done <- reply{line: line, err: err}
	}()

	var res reply
	select {
	case res = <-done:
	case <-ctx.Done():
		// The service may be mid-answer; its pipes can no longer be trusted.
		s.broken = fmt.Errorf("%w: %v", ErrServiceUnresponsive, ctx.Err())
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.logger.Warn("classification service stopped answering, killed", zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, res.err
	}
	if res.line.Error != "" {
		return nil, fmt.Errorf("classification service: %s", res.line.Error)
	}

	SortByConfidence(res.line.Predictions)
	return res.line.Predictions, nil
}

type reply struct {
	line *serviceLine
	err  error
}

// exchange sends one length-prefixed frame and reads the answer line.
func (s *Subprocess) exchange(data []byte) (*serviceLine, error) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := s.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := s.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}
	return s.readLine()
}

func (s *Subprocess) readLine() (*serviceLine, error) {
	raw, err := s.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var line serviceLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &line, nil
}

// Close stops the service.
func (s *Subprocess) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}

	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	s.cmd = nil

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
