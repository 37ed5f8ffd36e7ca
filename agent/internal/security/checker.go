package security

import (
	"context"
	"crypto/tls"
	"log/slog"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/config"
)

// ExpiringWithin is the window in which a certificate is reported as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

// CertStatus describes the leaf certificate of one exporter endpoint.
type CertStatus struct {
	DeviceID string
	Endpoint string
	AuthType string
	Status   string // valid | expiring | expired | unreachable
	Issuer   string
	NotAfter time.Time
	DaysLeft int
}

// Check dials the TLS endpoint of the given device and returns a CertStatus
// describing the leaf certificate.
//
// Returns nil for non-HTTPS endpoints. Uses a 10-second dial timeout so a
// slow host does not hold up the caller.
func Check(ctx context.Context, dev config.Device) *CertStatus {
	u, err := url.Parse(dev.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{
		DeviceID: dev.ID,
		Endpoint: dev.Endpoint,
		AuthType: dev.Auth.Mode,
	}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: dev.TLS.InsecureSkipVerify, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = "unreachable"
		return cs
	}

	leaf := peerCerts[0]
	left := time.Until(leaf.NotAfter)

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = "expired"
	case left <= ExpiringWithin:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}

// Report checks every HTTPS device and logs certificates that are not valid.
// Returns the statuses of the devices that were checked.
func Report(ctx context.Context, devices []config.Device) []*CertStatus {
	var out []*CertStatus
	for _, d := range devices {
		cs := Check(ctx, d)
		if cs == nil {
			continue
		}
		out = append(out, cs)
		switch cs.Status {
		case "valid":
			slog.Debug("security: exporter certificate valid", "device", d.ID, "days_left", cs.DaysLeft)
		case "unreachable":
			slog.Warn("security: exporter tls endpoint unreachable", "device", d.ID, "endpoint", d.Endpoint)
		default:
			slog.Warn("security: exporter certificate "+cs.Status,
				"device", d.ID, "days_left", cs.DaysLeft, "not_after", cs.NotAfter, "issuer", cs.Issuer)
		}
	}
	return out
}
