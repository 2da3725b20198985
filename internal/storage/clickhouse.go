package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes violation events to ClickHouse asynchronously.
// Write() is non-blocking — events are buffered and batch-inserted in a
// background goroutine, so a slow event store never stalls a frame cycle.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *ViolationRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// Ensure TLS is enabled for secure connections (e.g. ClickHouse Cloud on
	// port 9440). ParseDSN sets this when ?secure=true is in the DSN, but we
	// enforce it here as a safety net.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *ViolationRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a violation event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *ViolationRecord) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("session_id", event.SessionID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ViolationRecord, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining events from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*ViolationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO violation_events (
			event_id, session_id, user_id, course_id, timestamp,
			kind, message, confidence, informational, source,
			sustained_seconds, tab_switch_count, alert_dispatched
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		// Convert bools to uint8 for ClickHouse
		var informationalUint8, alertedUint8 uint8
		if e.Informational {
			informationalUint8 = 1
		}
		if e.AlertDispatched {
			alertedUint8 = 1
		}

		if err := batch.Append(
			e.EventID,
			e.SessionID,
			e.UserID,
			e.CourseID,
			e.Timestamp,
			e.Kind,
			TruncateMessage(e.Message, MessagePreviewLength),
			e.Confidence,
			informationalUint8,
			e.Source,
			e.SustainedSeconds,
			e.TabSwitchCount,
			alertedUint8,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *ViolationRecord) {
	w.logger.Info("violation_event",
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
		zap.String("user_id", event.UserID),
		zap.String("course_id", event.CourseID),
		zap.String("kind", event.Kind),
		zap.String("message", event.Message),
		zap.Float32("confidence", event.Confidence),
		zap.Bool("informational", event.Informational),
		zap.String("source", event.Source),
		zap.Float32("sustained_seconds", event.SustainedSeconds),
		zap.Bool("alert_dispatched", event.AlertDispatched),
	)
}

func (w *LogWriter) Close() {}
