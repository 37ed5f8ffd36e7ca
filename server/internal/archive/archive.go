// Package archive writes accepted samples to InfluxDB for long-term trend
// analysis. Archiving is best effort: a failed write is logged and counted,
// never surfaced to the device.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
	"github.com/aeroledger/aeroledger/server/internal/telemetry"
)

const measurement = "air_sample"

// Archiver records samples.
type Archiver interface {
	Record(ctx context.Context, s types.Sample) error
	Close()
}

// Open returns an Influx archiver when cfg is enabled, otherwise a no-op.
func Open(cfg config.ArchiveConfig) (Archiver, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("archive: url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token())
	slog.Info("archive: writing samples to InfluxDB", "url", cfg.URL, "bucket", cfg.Bucket)
	return &Influx{client: client, writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

// Nop discards samples.
type Nop struct{}

func (Nop) Record(context.Context, types.Sample) error { return nil }
func (Nop) Close()                                     {}

// Influx writes one point per sample, tagged by device.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// Record implements Archiver.
func (a *Influx) Record(ctx context.Context, s types.Sample) error {
	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("device_id", s.DeviceID).
		AddField(string(types.ChannelPM25), s.PM25).
		AddField(string(types.ChannelCO2), s.CO2).
		AddField(string(types.ChannelCO), s.CO).
		AddField(string(types.ChannelVOC), s.VOC).
		SetTime(s.Timestamp)
	if err := a.writeAPI.WritePoint(ctx, p); err != nil {
		telemetry.RecordArchiveError()
		return fmt.Errorf("archive: write %s: %w", s.DeviceID, err)
	}
	return nil
}

// Close releases the client.
func (a *Influx) Close() {
	if a.client != nil {
		a.client.Close()
	}
}
