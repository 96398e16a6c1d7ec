// Package history streams published snapshots into InfluxDB for diagnostics.
// Snapshots themselves are replace-only; this is the only place telemetry
// accumulates over time.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"fleetlink/internal/domain"
	"fleetlink/pkg/logger"
)

// Writer buffers snapshot points and writes them in batches.
type Writer struct {
	client        *influxdb3.Client
	database      string
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*influxdb3.Point

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWriter starts a batch writer on the given client. The client is owned by
// the caller.
func NewWriter(client *influxdb3.Client, database string, batchSize int, flushInterval time.Duration) *Writer {
	w := &Writer{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]*influxdb3.Point, 0, batchSize),
		stop:          make(chan struct{}),
	}

	w.wg.Add(1)
	go w.autoFlush()

	logger.Infof("history writer started: %d batch size, %v flush interval", batchSize, flushInterval)
	return w
}

// Publish implements coordinator.Sink. Stale snapshots carry no new readings
// and are skipped.
func (w *Writer) Publish(entryID string, snap *domain.Snapshot) {
	if snap == nil || snap.Stale {
		return
	}

	points := Points(entryID, snap)
	if len(points) == 0 {
		return
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, points...)
	shouldFlush := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// Points converts one snapshot into influx points: one per available device
// plus one for the station diagnostics.
func Points(entryID string, snap *domain.Snapshot) []*influxdb3.Point {
	var points []*influxdb3.Point

	for serial, rec := range snap.Devices {
		if !rec.Available() {
			continue
		}
		tags := map[string]string{
			"entry_id":    entryID,
			"serial":      serial,
			"device_type": string(rec.Type),
		}

		fields := make(map[string]interface{})
		for key, value := range rec.Sensors {
			if f, ok := numeric(value); ok {
				fields[key] = f
			}
		}
		for batKey, batFields := range rec.Batteries {
			for key, value := range batFields {
				if f, ok := numeric(value); ok {
					fields[fmt.Sprintf("%s_%s", batKey, key)] = f
				}
			}
		}
		if len(fields) > 0 {
			points = append(points, influxdb3.NewPoint("device_telemetry", tags, fields, snap.TakenAt))
		}
	}

	if snap.Station != nil {
		points = append(points, influxdb3.NewPoint(
			"station_diagnostics",
			map[string]string{"entry_id": entryID, "station": snap.Station.Name},
			map[string]interface{}{
				"api_request_rate":   snap.Station.APIRequestRate,
				"api_requests_today": snap.Station.APIRequestsToday,
			},
			snap.TakenAt,
		))
	}

	return points
}

// Close flushes what remains and stops the background flusher.
func (w *Writer) Close() {
	close(w.stop)
	w.wg.Wait()
	w.flush()
}

func (w *Writer) autoFlush() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]*influxdb3.Point, 0, w.batchSize)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.client.WritePoints(ctx, batch); err != nil {
		logger.Errorf("history flush failed: %v (points: %d, db: %s)", err, len(batch), w.database)
		return
	}
	logger.Debugf("history flushed %d points", len(batch))
}

func numeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
