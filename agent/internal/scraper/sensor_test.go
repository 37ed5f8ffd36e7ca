package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/config"
	"github.com/aeroledger/aeroledger/pkg/types"
)

const sensorExposition = `
# HELP sensor_pm25_ugm3 Fine particulate matter concentration.
# TYPE sensor_pm25_ugm3 gauge
sensor_pm25_ugm3{room="lab"} 12.5
sensor_pm25_ugm3{room="office"} 40
# HELP sensor_co2_ppm Carbon dioxide concentration.
# TYPE sensor_co2_ppm gauge
sensor_co2_ppm{room="lab"} 640
sensor_co2_ppm{room="office"} 900
# HELP sensor_co_ppm Carbon monoxide concentration.
# TYPE sensor_co_ppm gauge
sensor_co_ppm{room="lab"} 1.2
sensor_co_ppm{room="office"} 0.4
# HELP sensor_voc_ppb Volatile organic compounds.
# TYPE sensor_voc_ppb gauge
sensor_voc_ppb{room="lab"} 210
sensor_voc_ppb{room="office"} 80
# HELP sensor_last_update_timestamp_seconds Last sensor refresh.
# TYPE sensor_last_update_timestamp_seconds gauge
sensor_last_update_timestamp_seconds{room="lab"} 1.7e+09
sensor_last_update_timestamp_seconds{room="office"} 1.7e+09
`

func newTestDevice(endpoint string) config.Device {
	return config.Device{
		ID:       "dev-lab",
		Endpoint: endpoint,
		Metrics:  config.DefaultMetrics,
		Labels:   map[string]string{"room": "lab"},
		Auth:     config.AuthConfig{Mode: "none"},
	}
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scrape(t *testing.T, dev config.Device) *ScrapeResult {
	t.Helper()
	s, err := New(dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape returned error: %v", err)
	}
	return res
}

func TestScrape_SelectsLabelledSeries(t *testing.T) {
	srv := serve(t, sensorExposition)
	res := scrape(t, newTestDevice(srv.URL))

	if res.Err != nil {
		t.Fatalf("unexpected scrape error: %v", res.Err)
	}
	if !res.Complete() {
		t.Fatalf("expected complete result, missing=%v", res.Missing)
	}
	want := map[types.Channel]float64{
		types.ChannelPM25: 12.5,
		types.ChannelCO2:  640,
		types.ChannelCO:   1.2,
		types.ChannelVOC:  210,
	}
	for ch, v := range want {
		if res.Values[ch] != v {
			t.Errorf("%s = %v, want %v", ch, res.Values[ch], v)
		}
	}
	if res.DeviceID != "dev-lab" {
		t.Errorf("DeviceID = %q", res.DeviceID)
	}
	if !res.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("UpdatedAt = %v", res.UpdatedAt)
	}
}

func TestScrape_NoSelectorTakesFirstSeries(t *testing.T) {
	srv := serve(t, sensorExposition)
	dev := newTestDevice(srv.URL)
	dev.Labels = nil
	res := scrape(t, dev)

	if res.Values[types.ChannelPM25] != 12.5 {
		t.Errorf("pm25 = %v, want first series 12.5", res.Values[types.ChannelPM25])
	}
}

func TestScrape_MissingChannel(t *testing.T) {
	body := `
sensor_pm25_ugm3 5
sensor_co2_ppm 500
sensor_co_ppm 0.1
`
	srv := serve(t, body)
	dev := newTestDevice(srv.URL)
	dev.Labels = nil
	res := scrape(t, dev)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Complete() {
		t.Fatal("expected incomplete result")
	}
	if len(res.Missing) != 1 || res.Missing[0] != types.ChannelVOC {
		t.Errorf("Missing = %v, want [voc]", res.Missing)
	}
	if !res.UpdatedAt.IsZero() {
		t.Errorf("UpdatedAt = %v, want zero", res.UpdatedAt)
	}
}

func TestScrape_CustomMetricNames(t *testing.T) {
	body := `
aq_particulate 7
aq_carbon_dioxide 410
aq_carbon_monoxide 0
aq_voc 33
`
	srv := serve(t, body)
	dev := newTestDevice(srv.URL)
	dev.Labels = nil
	dev.Metrics = config.MetricNames{
		PM25: "aq_particulate",
		CO2:  "aq_carbon_dioxide",
		CO:   "aq_carbon_monoxide",
		VOC:  "aq_voc",
	}
	res := scrape(t, dev)

	if !res.Complete() {
		t.Fatalf("missing = %v", res.Missing)
	}
	if res.Values[types.ChannelCO] != 0 {
		t.Errorf("co = %v, want 0", res.Values[types.ChannelCO])
	}
}

func TestScrape_HTTPErrorSetsErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := scrape(t, newTestDevice(srv.URL))
	if res.Err == nil {
		t.Fatal("expected res.Err for 500 response")
	}
	if !strings.Contains(res.Err.Error(), "500") {
		t.Errorf("error %q should mention status", res.Err)
	}
	if res.Complete() {
		t.Error("failed scrape must not be complete")
	}
}

func TestScrape_Unreachable(t *testing.T) {
	res := scrape(t, newTestDevice("http://127.0.0.1:1/metrics"))
	if res.Err == nil {
		t.Fatal("expected connection error")
	}
}

func TestScrape_APIKeyHeader(t *testing.T) {
	t.Setenv("SENSOR_KEY", "s3cret")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Sensor-Key")
		_, _ = w.Write([]byte(sensorExposition))
	}))
	defer srv.Close()

	dev := newTestDevice(srv.URL)
	dev.Auth = config.AuthConfig{Mode: "apikey", Header: "X-Sensor-Key", KeyEnv: "SENSOR_KEY"}
	res := scrape(t, dev)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if got != "s3cret" {
		t.Errorf("header = %q, want s3cret", got)
	}
}

func TestScrape_BasicAuth(t *testing.T) {
	t.Setenv("SENSOR_PASS", "pw")
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		_, _ = w.Write([]byte(sensorExposition))
	}))
	defer srv.Close()

	dev := newTestDevice(srv.URL)
	dev.Auth = config.AuthConfig{Mode: "basic", Username: "ops", PasswordEnv: "SENSOR_PASS"}
	scrape(t, dev)

	if user != "ops" || pass != "pw" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}
}

func TestNew_MTLSMissingCert(t *testing.T) {
	dev := newTestDevice("https://example.invalid")
	dev.Auth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	if _, err := New(dev); err == nil {
		t.Fatal("expected error for missing client cert")
	}
}

func TestParseMetrics_KeepsFamiliesBeforeGarbage(t *testing.T) {
	body := "sensor_pm25_ugm3 3\nsensor_co2_ppm 400\n{{{not prometheus\n"
	mfs, err := parseMetrics(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseMetrics: %v", err)
	}
	if _, ok := mfs["sensor_pm25_ugm3"]; !ok {
		t.Error("expected pm25 family to survive")
	}
}

func TestParseMetrics_AllGarbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{{{ nope")); err == nil {
		t.Fatal("expected error")
	}
}
