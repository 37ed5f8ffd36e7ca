package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/aeroledger/aeroledger/agent/internal/config"
	"github.com/aeroledger/aeroledger/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

// ScrapeResult is the normalized output of one scrape of a single device.
type ScrapeResult struct {
	DeviceID  string
	ScrapedAt time.Time

	// Values holds the reading for every channel found in the exposition.
	Values map[types.Channel]float64

	// Missing lists channels whose metric was absent.
	Missing []types.Channel

	// UpdatedAt is the sensor's own refresh time, zero when the exporter
	// does not publish one.
	UpdatedAt time.Time

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse).
	Err error
}

// Complete reports whether every channel was read.
func (r *ScrapeResult) Complete() bool {
	return r.Err == nil && len(r.Missing) == 0
}

// Scraper is implemented by every device scraper.
type Scraper interface {
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// New returns a Scraper for the given device configuration.
// It builds the HTTP client once and reuses it across scrape calls.
func New(dev config.Device) (Scraper, error) {
	client, err := buildHTTPClient(dev.Auth, dev.TLS)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", dev.ID, err)
	}
	return &sensorScraper{dev: dev, client: client}, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the auth and TLS settings.
func buildHTTPClient(auth config.AuthConfig, tlsOpts config.TLSConfig) (*http.Client, error) {
	tlsCfg, err := tlsConfig(auth, tlsOpts)
	if err != nil {
		return nil, err
	}
	transport := &authRoundTripper{
		base: &http.Transport{TLSClientConfig: tlsCfg},
		auth: auth,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultScrapeTimeout,
	}, nil
}

// tlsConfig builds the client TLS configuration, loading the client
// certificate and optional CA when auth.Mode is "mtls".
func tlsConfig(auth config.AuthConfig, opts config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if auth.Mode != "mtls" {
		return tlsCfg, nil
	}

	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// Families decoded before a malformed line are still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, expfmt.NewFormat(expfmt.TypeTextPlain))
	mfs := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := dec.Decode(mf)
		if errors.Is(err, io.EOF) {
			return mfs, nil
		}
		if err != nil {
			if len(mfs) == 0 {
				return nil, fmt.Errorf("parse prometheus text: %w", err)
			}
			return mfs, nil
		}
		mfs[mf.GetName()] = mf
	}
}

// valueOf returns the value of the first series in mf whose labels include
// every pair in selector. Returns false if mf is nil or nothing matches.
func valueOf(mf *dto.MetricFamily, selector map[string]string) (float64, bool) {
	if mf == nil {
		return 0, false
	}
	for _, m := range mf.GetMetric() {
		if !matches(m.GetLabel(), selector) {
			continue
		}
		switch {
		case m.Gauge != nil:
			return m.Gauge.GetValue(), true
		case m.Untyped != nil:
			return m.Untyped.GetValue(), true
		case m.Counter != nil:
			return m.Counter.GetValue(), true
		}
	}
	return 0, false
}

func matches(labels []*dto.LabelPair, selector map[string]string) bool {
	for k, want := range selector {
		found := false
		for _, lp := range labels {
			if lp.GetName() == k && lp.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
