// Package evread provides read access to the ClickHouse violation_events
// log for the review/history endpoints. Writes go through internal/storage;
// this package only queries.
package evread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse violation_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the violation_events table.
type EventRow struct {
	EventID          string    `json:"event_id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	Timestamp        time.Time `json:"timestamp"`
	Kind             string    `json:"kind"`
	Message          string    `json:"message"`
	Confidence       float32   `json:"confidence"`
	Informational    uint8     `json:"informational"`
	Source           string    `json:"source"`
	SustainedSeconds float32   `json:"sustained_seconds"`
	TabSwitchCount   uint32    `json:"tab_switch_count"`
	AlertDispatched  uint8     `json:"alert_dispatched"`
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	CourseID      string
	SessionID     *string
	UserID        *string
	Kind          *string
	Informational *bool
	StartTime     *time.Time
	EndTime       *time.Time
	Page          int
	PageSize      int
}

// ListEvents returns paginated, filtered violation events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"course_id = @course_id"}
	args := []any{
		clickhouse.Named("course_id", params.CourseID),
	}

	if params.SessionID != nil {
		conditions = append(conditions, "session_id = @session_id")
		args = append(args, clickhouse.Named("session_id", *params.SessionID))
	}
	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.Kind != nil {
		conditions = append(conditions, "kind = @kind")
		args = append(args, clickhouse.Named("kind", *params.Kind))
	}
	if params.Informational != nil {
		var v uint8
		if *params.Informational {
			v = 1
		}
		conditions = append(conditions, "informational = @informational")
		args = append(args, clickhouse.Named("informational", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM violation_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT event_id, session_id, user_id, course_id, timestamp, "+
			"kind, message, confidence, informational, source, "+
			"sustained_seconds, tab_switch_count, alert_dispatched "+
			"FROM violation_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.EventID, &e.SessionID, &e.UserID, &e.CourseID, &e.Timestamp,
			&e.Kind, &e.Message, &e.Confidence, &e.Informational, &e.Source,
			&e.SustainedSeconds, &e.TabSwitchCount, &e.AlertDispatched,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by course ID and event ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, courseID, eventID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT event_id, session_id, user_id, course_id, timestamp, "+
			"kind, message, confidence, informational, source, "+
			"sustained_seconds, tab_switch_count, alert_dispatched "+
			"FROM violation_events "+
			"WHERE course_id = @course_id AND event_id = @event_id",
		clickhouse.Named("course_id", courseID),
		clickhouse.Named("event_id", eventID),
	)

	var e EventRow
	if err := row.Scan(
		&e.EventID, &e.SessionID, &e.UserID, &e.CourseID, &e.Timestamp,
		&e.Kind, &e.Message, &e.Confidence, &e.Informational, &e.Source,
		&e.SustainedSeconds, &e.TabSwitchCount, &e.AlertDispatched,
	); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.EventID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	TotalEvents    int `json:"total_events"`
	Alerts         int `json:"alerts"`
	Informational  int `json:"informational"`
	FallbackEvents int `json:"fallback_events"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// KindCount holds a violation kind and its count.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// UserCount holds a user_id and its count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// ConfidenceStats holds confidence percentiles.
type ConfidenceStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations for a course.
type AnalyticsResult struct {
	Summary               SummaryStats       `json:"summary"`
	EventsOverTime        []TimeSeriesBucket `json:"events_over_time"`
	TopKinds              []KindCount        `json:"top_kinds"`
	TopFlaggedUsers       []UserCount        `json:"top_flagged_users"`
	ConfidencePercentiles ConfidenceStats    `json:"confidence_percentiles"`
}

// GetAnalytics returns aggregated analytics for a course over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, courseID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("course_id", courseID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var totalEvents, alerts, informational, fallback uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total_events, "+
			"countIf(alert_dispatched = 1) as alerts, "+
			"countIf(informational = 1) as informational, "+
			"countIf(source = 'geometry_fallback') as fallback_events "+
			"FROM violation_events "+
			"WHERE course_id = @course_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&totalEvents, &alerts, &informational, &fallback)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalEvents:    int(totalEvents),
		Alerts:         int(alerts),
		Informational:  int(informational),
		FallbackEvents: int(fallback),
	}

	// Events over time (hourly)
	eotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM violation_events "+
			"WHERE course_id = @course_id AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics events_over_time: %w", err)
	}
	defer func() { _ = eotRows.Close() }()
	for eotRows.Next() {
		var hour time.Time
		var count uint64
		if err := eotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics events_over_time scan: %w", err)
		}
		result.EventsOverTime = append(result.EventsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top violation kinds
	kindRows, err := r.conn.Query(ctx,
		"SELECT kind, count() as count "+
			"FROM violation_events "+
			"WHERE course_id = @course_id AND timestamp >= @range_start "+
			"GROUP BY kind ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_kinds: %w", err)
	}
	defer func() { _ = kindRows.Close() }()
	for kindRows.Next() {
		var kind string
		var count uint64
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_kinds scan: %w", err)
		}
		result.TopKinds = append(result.TopKinds, KindCount{
			Kind: kind, Count: int(count),
		})
	}

	// Top flagged users
	userRows, err := r.conn.Query(ctx,
		"SELECT user_id, count() as count "+
			"FROM violation_events "+
			"WHERE course_id = @course_id AND alert_dispatched = 1 "+
			"AND user_id != '' AND timestamp >= @range_start "+
			"GROUP BY user_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_users: %w", err)
	}
	defer func() { _ = userRows.Close() }()
	for userRows.Next() {
		var uid string
		var count uint64
		if err := userRows.Scan(&uid, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_users scan: %w", err)
		}
		result.TopFlaggedUsers = append(result.TopFlaggedUsers, UserCount{
			UserID: uid, Count: int(count),
		})
	}

	// Confidence percentiles
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(confidence) as p50, "+
			"quantile(0.95)(confidence) as p95, "+
			"quantile(0.99)(confidence) as p99 "+
			"FROM violation_events "+
			"WHERE course_id = @course_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics confidence: %w", err)
	}
	result.ConfidencePercentiles = ConfidenceStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.EventsOverTime == nil {
		result.EventsOverTime = []TimeSeriesBucket{}
	}
	if result.TopKinds == nil {
		result.TopKinds = []KindCount{}
	}
	if result.TopFlaggedUsers == nil {
		result.TopFlaggedUsers = []UserCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
