package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/config"
	"github.com/aeroledger/aeroledger/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0

	ingestPath = "/api/v1/sensor/ingest"
)

// Command is the server's answer to one ingested sample.
type Command struct {
	types.ControlCommand
	CycleID string `json:"cycle_id,omitempty"`
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Shipper buffers samples and ships them to aeroledger-server.
// Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg      config.AgentConfig
	url      string
	client   *http.Client
	buf      chan *types.Sample
	actuator Actuator

	// pending holds a sample whose delivery failed transiently; it is
	// retried before anything else so the server sees samples in order.
	// Only touched by the Run goroutine.
	pending *types.Sample
	wait    func(ctx context.Context, d time.Duration) bool
}

// New creates a Shipper using the given agent config. act receives every
// command returned by the server; nil discards them.
func New(cfg config.AgentConfig, act Actuator) (*Shipper, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	if act == nil {
		act = ActuatorFunc(func(context.Context, string, Command) error { return nil })
	}
	return &Shipper{
		cfg:      cfg,
		url:      strings.TrimRight(cfg.ServerURL, "/") + ingestPath,
		client:   client,
		buf:      make(chan *types.Sample, cfg.BufferSize),
		actuator: act,
		wait:     sleepCtx,
	}, nil
}

// Ship enqueues a sample. If the buffer is full the oldest entry is
// evicted to make room.
func (s *Shipper) Ship(sample *types.Sample) {
	for {
		select {
		case s.buf <- sample:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest sample",
				"device", old.DeviceID, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of buffered samples.
func (s *Shipper) Pending() int {
	return len(s.buf)
}

// Run drains the buffer, sending samples to the server.
// It backs off exponentially while the server is unreachable.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.drain(ctx, bo)
		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: delivery failed, will retry",
			"url", s.url,
			"err", err,
			"retry_in", wait,
			"buffered", len(s.buf))
		if !s.wait(ctx, wait) {
			return
		}
	}
}

// drain sends samples until a transient failure or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, bo *backoff) error {
	for {
		sample := s.pending
		s.pending = nil
		if sample == nil {
			select {
			case <-ctx.Done():
				return nil
			case sample = <-s.buf:
			}
		}

		cmd, err := s.send(ctx, sample)
		if err != nil {
			if isPermanentError(err) {
				slog.Error("shipper: permanent send error, discarding sample",
					"device", sample.DeviceID, "err", err)
				continue
			}
			s.pending = sample
			return fmt.Errorf("send: %w", err)
		}
		bo.reset()

		slog.Debug("shipper: sample delivered",
			"device", sample.DeviceID, "fan_on", cmd.On, "fan_intensity", cmd.Intensity, "cycle", cmd.CycleID)
		if err := s.actuator.Apply(ctx, sample.DeviceID, *cmd); err != nil {
			slog.Error("shipper: actuator failed", "device", sample.DeviceID, "err", err)
		}
	}
}

// send POSTs one sample and decodes the returned command.
func (s *Shipper) send(ctx context.Context, sample *types.Sample) (*Command, error) {
	body, err := json.Marshal(sample)
	if err != nil {
		return nil, &StatusError{Code: http.StatusBadRequest, Message: "encode sample: " + err.Error()}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		req.Header.Set(s.cfg.ServerAuth.Header, s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var cmd Command
	if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &cmd, nil
}

// errorMessage extracts the server's {"error": "..."} body, falling back
// to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// isPermanentError returns true for responses that indicate the sample
// itself is unacceptable and should not be retried.
func isPermanentError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

// buildHTTPClient returns a client with mTLS configured when the server
// auth mode asks for it.
func buildHTTPClient(cfg config.AgentConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ServerAuth.Mode == "mtls" {
		tlsCfg, err := buildMTLSConfig(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("build mtls config: %w", err)
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &http.Client{Transport: transport}, nil
}

// buildMTLSConfig loads client certificate and optional CA from the auth config.
func buildMTLSConfig(auth config.AuthConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
