package ml

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"fraud-serving/internal/features"

	"github.com/rs/zerolog/log"
)

//go:embed scripts/joblib_worker.py
var workerScript []byte

const stderrTail = 4096

var errClosed = errors.New("classifier closed")

// ScriptConfig configures the Python worker backend.
type ScriptConfig struct {
	ModelPath      string        // joblib artifact; a dict artifact must hold the estimator under "model"
	PythonPath     string        // optional; discovered when empty
	Timeout        time.Duration // per prediction
	StartupTimeout time.Duration // model load
}

// ScriptClassifier keeps one Python process alive for the lifetime of the
// service. The process loads the model once and answers one JSON line per
// request; requests are serialised over its single stdin/stdout pair.
type ScriptClassifier struct {
	cfg     ScriptConfig
	metrics MetricsInterface

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	stderr     *lockedBuffer
	scriptPath string
	modelName  string
	pending    chan readResult // response of a request whose caller gave up
	broken     error
}

type readResult struct {
	line []byte
	err  error
}

type workerHello struct {
	Ready bool   `json:"ready"`
	Model string `json:"model"`
	Error string `json:"error"`
}

// NewScriptClassifier starts the worker and waits until the model is loaded.
func NewScriptClassifier(cfg ScriptConfig, metrics MetricsInterface) (*ScriptClassifier, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", cfg.ModelPath, err)
	}

	pythonPath, err := findPython(cfg.PythonPath)
	if err != nil {
		return nil, err
	}

	scriptPath, err := writeWorkerScript()
	if err != nil {
		return nil, err
	}

	s := &ScriptClassifier{
		cfg:        cfg,
		metrics:    metrics,
		stderr:     &lockedBuffer{},
		scriptPath: scriptPath,
	}

	s.cmd = exec.Command(pythonPath, scriptPath, cfg.ModelPath)
	s.cmd.Stderr = s.stderr
	s.cmd.WaitDelay = time.Second

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)

	if err := s.cmd.Start(); err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("start worker %s: %w", pythonPath, err)
	}

	if err := s.waitReady(); err != nil {
		s.Close()
		return nil, err
	}

	log.Info().
		Str("python_path", pythonPath).
		Str("model_path", cfg.ModelPath).
		Str("model", s.modelName).
		Msg("Fraud model loaded")

	return s, nil
}

func (s *ScriptClassifier) waitReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := s.await(context.Background(), s.readAsync(), s.cfg.StartupTimeout)
	if err != nil {
		return fmt.Errorf("model worker did not start: %w", err)
	}

	var hello workerHello
	if err := json.Unmarshal(line, &hello); err != nil {
		return fmt.Errorf("model worker handshake: %w, stdout: %s", err, bytes.TrimSpace(line))
	}
	if hello.Error != "" {
		return fmt.Errorf("model worker: %s", hello.Error)
	}
	if !hello.Ready {
		return fmt.Errorf("model worker handshake: unexpected %s", bytes.TrimSpace(line))
	}
	s.modelName = hello.Model
	return nil
}

// ModelName is the estimator type reported by the worker.
func (s *ScriptClassifier) ModelName() string { return s.modelName }

// Classify implements Classifier.
func (s *ScriptClassifier) Classify(ctx context.Context, v features.Vector) (bool, error) {
	start := time.Now()
	label, err := s.classify(ctx, v)
	observe(s.metrics, start, err)
	return label, err
}

func (s *ScriptClassifier) classify(ctx context.Context, v features.Vector) (bool, error) {
	payload, err := json.Marshal(newPredictRequest(v))
	if err != nil {
		return false, fmt.Errorf("%w: marshal request: %v", ErrInferenceFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return false, fmt.Errorf("%w: worker unavailable: %v", ErrInferenceFailure, s.broken)
	}

	// Keep the line protocol in step: a caller that gave up still owns a
	// response on the pipe.
	if s.pending != nil {
		pending := s.pending
		s.pending = nil
		if _, err := s.await(context.Background(), pending, s.cfg.Timeout); err != nil {
			return false, err
		}
	}

	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		s.fail(fmt.Errorf("write request: %w", err))
		return false, fmt.Errorf("%w: %v", ErrInferenceFailure, s.broken)
	}

	line, err := s.await(ctx, s.readAsync(), s.cfg.Timeout)
	if err != nil {
		return false, err
	}

	var resp predictResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		log.Error().
			Err(err).
			Str("stdout", string(bytes.TrimSpace(line))).
			Interface("features", v.Values).
			Msg("Failed to parse prediction response")
		return false, fmt.Errorf("%w: parse response: %v", ErrInferenceFailure, err)
	}
	return resp.label()
}

func (s *ScriptClassifier) readAsync() chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		line, err := s.stdout.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()
	return ch
}

// await must be called with s.mu held.
func (s *ScriptClassifier) await(ctx context.Context, ch chan readResult, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			s.fail(fmt.Errorf("read response: %w, stderr: %s", r.err, s.stderr.String()))
			return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, s.broken)
		}
		return r.line, nil
	case <-timer.C:
		if s.metrics != nil {
			s.metrics.MLTimeoutsInc()
		}
		s.fail(fmt.Errorf("no response within %v", timeout))
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, s.broken)
	case <-ctx.Done():
		s.pending = ch
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, ctx.Err())
	}
}

// fail marks the worker unusable and stops it. The model is never reloaded.
func (s *ScriptClassifier) fail(err error) {
	if s.broken != nil {
		return
	}
	s.broken = err
	log.Error().
		Err(err).
		Str("model_path", s.cfg.ModelPath).
		Msg("Model worker failed")
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Close stops the worker and removes its script.
func (s *ScriptClassifier) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	if s.broken == nil {
		s.broken = errClosed
	}

	_ = s.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		_ = s.cmd.Process.Kill()
		err = <-done
	}

	s.cmd = nil
	os.Remove(s.scriptPath)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed or exited non-zero after a failure already reported.
		return nil
	}
	return err
}

func writeWorkerScript() (string, error) {
	f, err := os.CreateTemp("", "fraud-worker-*.py")
	if err != nil {
		return "", fmt.Errorf("create worker script: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(workerScript); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write worker script: %w", err)
	}
	return f.Name(), nil
}

// findPython resolves the interpreter. An explicitly configured path is
// trusted as-is; otherwise the active virtualenv and then PATH are searched
// for an interpreter that can import joblib and pandas.
func findPython(configured string) (string, error) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", fmt.Errorf("python executable %s: %w", configured, err)
		}
		return path, nil
	}

	var candidates []string
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		candidates = append(candidates,
			filepath.Join(venv, "bin", "python3"),
			filepath.Join(venv, "bin", "python"),
		)
	}
	candidates = append(candidates, "python3", "python")

	for _, candidate := range candidates {
		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}
		cmd := exec.Command(path, "-c", "import joblib, pandas")
		if err := cmd.Run(); err == nil {
			log.Info().Str("python_path", path).Msg("Using Python interpreter")
			return path, nil
		}
	}

	return "", fmt.Errorf("no Python 3 interpreter with joblib and pandas found")
}

// lockedBuffer keeps the tail of the worker's stderr for error reports.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if over := b.buf.Len() - stderrTail; over > 0 {
		b.buf.Next(over)
	}
	return n, err
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
