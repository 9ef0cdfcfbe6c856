// Package analytics computes per-organization document statistics.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidPeriod = errors.New("period must be one of: day, week, month, year")

// Period is the bucket size of a time series.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

type periodSpec struct {
	buckets int
	layout  string
}

var periods = map[Period]periodSpec{
	PeriodDay:   {buckets: 7, layout: "2006-01-02"},
	PeriodWeek:  {buckets: 8, layout: "2006-01-02"},
	PeriodMonth: {buckets: 6, layout: "2006-01"},
	PeriodYear:  {buckets: 3, layout: "2006"},
}

// ParsePeriod defaults to month.
func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return PeriodMonth, nil
	}
	p := Period(s)
	if _, ok := periods[p]; !ok {
		return "", ErrInvalidPeriod
	}
	return p, nil
}

// truncate returns the start of the bucket containing t. Weeks start on
// Monday, matching Postgres date_trunc.
func (p Period) truncate(t time.Time) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	switch p {
	case PeriodDay:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	}
}

func (p Period) step(t time.Time, n int) time.Time {
	switch p {
	case PeriodDay:
		return t.AddDate(0, 0, n)
	case PeriodWeek:
		return t.AddDate(0, 0, 7*n)
	case PeriodYear:
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, n, 0)
	}
}

// bucketStarts lists the starts of the series ending with the bucket that
// contains now, oldest first.
func (p Period) bucketStarts(now time.Time) []time.Time {
	spec := periods[p]
	last := p.truncate(now)
	out := make([]time.Time, spec.buckets)
	for i := range out {
		out[i] = p.step(last, i-(spec.buckets-1))
	}
	return out
}

// Dashboard summarizes an organization's documents. Changes compare the
// last 30 days with the 30 days before.
type Dashboard struct {
	TotalDocuments       int            `json:"total_documents"`
	DocumentsByStatus    map[string]int `json:"documents_by_status"`
	DocumentsLast30Days  int            `json:"documents_last_30_days"`
	DocumentsChange      float64        `json:"documents_change"`
	SuccessRate          float64        `json:"success_rate"`
	SuccessRateChange    float64        `json:"success_rate_change"`
	AvgProcessingSeconds float64        `json:"avg_processing_seconds"`
	ProcessingTimeChange float64        `json:"processing_time_change"`
}

// PeriodStats is one bucket of the document series.
type PeriodStats struct {
	Period          string `json:"period"`
	DocumentCount   int    `json:"document_count"`
	SuccessfulCount int    `json:"successful_count"`
	FailedCount     int    `json:"failed_count"`
}

// ProcessingTime is the average processing time of documents finished on
// one day.
type ProcessingTime struct {
	Date                     string  `json:"date"`
	AvgProcessingTimeSeconds float64 `json:"avg_processing_time_seconds"`
}

type TypeCount struct {
	DocumentType string `json:"document_type"`
	Count        int    `json:"count"`
}

// unspecifiedType labels documents uploaded without a type.
const unspecifiedType = "unspecified"

type Service struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, now: time.Now}
}

type windowStats struct {
	count     int
	processed int
	failed    int
	avgSecs   float64
}

func (s *Service) window(ctx context.Context, orgID uuid.UUID, from, to time.Time) (windowStats, error) {
	var w windowStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'processed'),
			COUNT(*) FILTER (WHERE status = 'processing_failed'),
			COALESCE(AVG(EXTRACT(EPOCH FROM processed_at - processing_started_at))
				FILTER (WHERE status = 'processed' AND processing_started_at IS NOT NULL), 0)::float8
		FROM documents
		WHERE org_id = $1 AND created_at >= $2 AND created_at < $3
	`, orgID, from, to).Scan(&w.count, &w.processed, &w.failed, &w.avgSecs)
	if err != nil {
		return windowStats{}, fmt.Errorf("failed to compute window stats: %w", err)
	}
	return w, nil
}

func (s *Service) Dashboard(ctx context.Context, orgID uuid.UUID) (*Dashboard, error) {
	d := &Dashboard{DocumentsByStatus: map[string]int{
		"uploaded":          0,
		"processing":        0,
		"processed":         0,
		"processing_failed": 0,
	}}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM documents WHERE org_id = $1 GROUP BY status
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		d.DocumentsByStatus[status] = n
		d.TotalDocuments += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := s.window(ctx, orgID, time.Time{}, s.now().Add(time.Minute))
	if err != nil {
		return nil, err
	}
	d.SuccessRate = successRate(all.processed, all.failed)
	d.AvgProcessingSeconds = round1(all.avgSecs)

	now := s.now()
	cur, err := s.window(ctx, orgID, now.AddDate(0, 0, -30), now.Add(time.Minute))
	if err != nil {
		return nil, err
	}
	prev, err := s.window(ctx, orgID, now.AddDate(0, 0, -60), now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	d.DocumentsLast30Days = cur.count
	d.DocumentsChange = percentChange(float64(cur.count), float64(prev.count))
	if prev.processed+prev.failed > 0 && cur.processed+cur.failed > 0 {
		d.SuccessRateChange = round1(successRate(cur.processed, cur.failed) - successRate(prev.processed, prev.failed))
	}
	if prev.avgSecs > 0 && cur.avgSecs > 0 {
		// Positive means processing got faster.
		d.ProcessingTimeChange = percentChange(prev.avgSecs, cur.avgSecs)
	}
	return d, nil
}

// DocumentStats returns a gap-free series of document counts.
func (s *Service) DocumentStats(ctx context.Context, orgID uuid.UUID, period Period) ([]PeriodStats, error) {
	starts := period.bucketStarts(s.now())

	rows, err := s.pool.Query(ctx, `
		SELECT
			date_trunc($2, created_at AT TIME ZONE 'UTC') AS bucket,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'processed'),
			COUNT(*) FILTER (WHERE status = 'processing_failed')
		FROM documents
		WHERE org_id = $1 AND created_at >= $3
		GROUP BY bucket
	`, orgID, string(period), starts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to query document stats: %w", err)
	}
	defer rows.Close()

	found := map[time.Time]PeriodStats{}
	for rows.Next() {
		var bucket time.Time
		var ps PeriodStats
		if err := rows.Scan(&bucket, &ps.DocumentCount, &ps.SuccessfulCount, &ps.FailedCount); err != nil {
			return nil, fmt.Errorf("failed to scan document stats: %w", err)
		}
		found[period.truncate(bucket)] = ps
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fillSeries(period, starts, found), nil
}

func fillSeries(period Period, starts []time.Time, found map[time.Time]PeriodStats) []PeriodStats {
	layout := periods[period].layout
	out := make([]PeriodStats, len(starts))
	for i, start := range starts {
		ps := found[start]
		ps.Period = start.Format(layout)
		out[i] = ps
	}
	return out
}

// ProcessingTimes returns daily average processing time for the last 14 days.
func (s *Service) ProcessingTimes(ctx context.Context, orgID uuid.UUID) ([]ProcessingTime, error) {
	today := PeriodDay.truncate(s.now())
	from := today.AddDate(0, 0, -13)

	rows, err := s.pool.Query(ctx, `
		SELECT
			date_trunc('day', processed_at AT TIME ZONE 'UTC') AS day,
			AVG(EXTRACT(EPOCH FROM processed_at - processing_started_at))::float8
		FROM documents
		WHERE org_id = $1
		  AND status = 'processed'
		  AND processing_started_at IS NOT NULL
		  AND processed_at >= $2
		GROUP BY day
	`, orgID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing times: %w", err)
	}
	defer rows.Close()

	found := map[time.Time]float64{}
	for rows.Next() {
		var day time.Time
		var avg float64
		if err := rows.Scan(&day, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan processing time: %w", err)
		}
		found[PeriodDay.truncate(day)] = avg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ProcessingTime, 0, 14)
	for day := from; !day.After(today); day = day.AddDate(0, 0, 1) {
		out = append(out, ProcessingTime{
			Date:                     day.Format("2006-01-02"),
			AvgProcessingTimeSeconds: round1(found[day]),
		})
	}
	return out, nil
}

// DocumentTypes counts documents per type, largest first.
func (s *Service) DocumentTypes(ctx context.Context, orgID uuid.UUID) ([]TypeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(document_type, ''), $2) AS t, COUNT(*) AS n
		FROM documents
		WHERE org_id = $1
		GROUP BY t
		ORDER BY n DESC, t
	`, orgID, unspecifiedType)
	if err != nil {
		return nil, fmt.Errorf("failed to query document types: %w", err)
	}
	defer rows.Close()

	out := []TypeCount{}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.DocumentType, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan document type: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// successRate is the share of finished documents that processed, in percent.
func successRate(processed, failed int) float64 {
	finished := processed + failed
	if finished == 0 {
		return 0
	}
	return round1(float64(processed) / float64(finished) * 100)
}

// percentChange is the relative change from prev to cur in percent. With no
// baseline any growth counts as 100%.
func percentChange(cur, prev float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return round1((cur - prev) / prev * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
