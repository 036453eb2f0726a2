package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RequestDetail 请求日志明细
type RequestDetail struct {
	RequestID      string     `json:"request_id"`
	ClientIP       string     `json:"client_ip"`
	Method         string     `json:"method"`
	Path           string     `json:"path"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	DurationMs     *int64     `json:"duration_ms,omitempty"`
	Status         string     `json:"status"`
	HTTPStatusCode *int       `json:"http_status_code,omitempty"`
	EndpointName   string     `json:"endpoint_name"`
	AttemptCount   int        `json:"attempt_count"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// AttemptDetail 尝试日志明细
type AttemptDetail struct {
	ID            int64     `json:"id"`
	RequestID     string    `json:"request_id"`
	AttemptNumber int       `json:"attempt_number"`
	EndpointName  string    `json:"endpoint_name"`
	StartTime     time.Time `json:"start_time"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	FailureType   string    `json:"failure_type,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
}

// QueryOptions 请求日志查询条件
type QueryOptions struct {
	StartDate    *time.Time
	EndDate      *time.Time
	Status       string
	EndpointName string
	Limit        int
	Offset       int
}

// EndpointSummary 单端点汇总统计
type EndpointSummary struct {
	EndpointName  string  `json:"endpoint_name"`
	AttemptCount  int64   `json:"attempt_count"`
	SuccessCount  int64   `json:"success_count"`
	FailureCount  int64   `json:"failure_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// OverviewStats 请求日志总览统计
type OverviewStats struct {
	TotalRequests     int64             `json:"total_requests"`
	CompletedRequests int64             `json:"completed_requests"`
	FailedRequests    int64             `json:"failed_requests"`
	ExhaustedRequests int64             `json:"exhausted_requests"`
	PendingRequests   int64             `json:"pending_requests"`
	AvgDurationMs     float64           `json:"avg_duration_ms"`
	EndpointSummaries []EndpointSummary `json:"endpoint_summaries"`
}

// dbTimeFormats SQLite存储的时间格式候选
var dbTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseDBTime(s string) (time.Time, error) {
	for _, format := range dbTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}

// scanNullableTime 扫描可能为字符串或time.Time的时间列
// modernc.org/sqlite按存储类型返回，MySQL开启parseTime后返回time.Time
func scanNullableTime(v interface{}) (*time.Time, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &val, nil
	case string:
		t, err := parseDBTime(val)
		if err != nil {
			return nil, err
		}
		return &t, nil
	case []byte:
		t, err := parseDBTime(string(val))
		if err != nil {
			return nil, err
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("unsupported time column type %T", v)
	}
}

// QueryRequestDetails 按条件查询请求日志
func (rt *RequestTracker) QueryRequestDetails(ctx context.Context, opts *QueryOptions) ([]RequestDetail, error) {
	if !rt.Enabled() {
		return nil, fmt.Errorf("request tracking not enabled")
	}
	if opts == nil {
		opts = &QueryOptions{Limit: 100}
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	var conditions []string
	var args []interface{}

	if opts.StartDate != nil {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, *opts.StartDate)
	}
	if opts.EndDate != nil {
		conditions = append(conditions, "start_time <= ?")
		args = append(args, *opts.EndDate)
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.EndpointName != "" {
		conditions = append(conditions, "endpoint_name = ?")
		args = append(args, opts.EndpointName)
	}

	query := `SELECT request_id, client_ip, method, path, start_time, end_time,
		duration_ms, status, http_status_code, endpoint_name, attempt_count, failure_reason
		FROM request_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time DESC"
	query += rt.adapter.BuildLimitOffset(opts.Limit, opts.Offset)

	rows, err := rt.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query request logs: %w", err)
	}
	defer rows.Close()

	var details []RequestDetail
	for rows.Next() {
		var d RequestDetail
		var startRaw, endRaw interface{}
		var durationMs sql.NullInt64
		var httpStatus sql.NullInt64

		err := rows.Scan(&d.RequestID, &d.ClientIP, &d.Method, &d.Path,
			&startRaw, &endRaw, &durationMs, &d.Status, &httpStatus,
			&d.EndpointName, &d.AttemptCount, &d.FailureReason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request log row: %w", err)
		}

		if start, err := scanNullableTime(startRaw); err == nil && start != nil {
			d.StartTime = *start
		}
		if end, err := scanNullableTime(endRaw); err == nil {
			d.EndTime = end
		}
		if durationMs.Valid {
			d.DurationMs = &durationMs.Int64
		}
		if httpStatus.Valid {
			code := int(httpStatus.Int64)
			d.HTTPStatusCode = &code
		}

		details = append(details, d)
	}

	return details, rows.Err()
}

// QueryAttempts 查询单个请求的所有尝试记录
func (rt *RequestTracker) QueryAttempts(ctx context.Context, requestID string) ([]AttemptDetail, error) {
	if !rt.Enabled() {
		return nil, fmt.Errorf("request tracking not enabled")
	}

	rows, err := rt.db.QueryContext(ctx,
		`SELECT id, request_id, attempt_number, endpoint_name, start_time,
			duration_ms, success, failure_type, error_detail
		 FROM attempt_logs WHERE request_id = ? ORDER BY attempt_number ASC`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt logs: %w", err)
	}
	defer rows.Close()

	var attempts []AttemptDetail
	for rows.Next() {
		var a AttemptDetail
		var startRaw interface{}
		var success int

		err := rows.Scan(&a.ID, &a.RequestID, &a.AttemptNumber, &a.EndpointName,
			&startRaw, &a.DurationMs, &success, &a.FailureType, &a.ErrorDetail)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt log row: %w", err)
		}

		if start, err := scanNullableTime(startRaw); err == nil && start != nil {
			a.StartTime = *start
		}
		a.Success = success != 0

		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// GetOverviewStats 获取时间段内的总览统计
func (rt *RequestTracker) GetOverviewStats(ctx context.Context, startTime, endTime time.Time) (*OverviewStats, error) {
	if !rt.Enabled() {
		return nil, fmt.Errorf("request tracking not enabled")
	}

	stats := &OverviewStats{}

	err := rt.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'exhausted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		 FROM request_logs WHERE start_time >= ? AND start_time <= ?`,
		startTime, endTime).Scan(
		&stats.TotalRequests,
		&stats.CompletedRequests,
		&stats.FailedRequests,
		&stats.ExhaustedRequests,
		&stats.PendingRequests,
		&stats.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query overview stats: %w", err)
	}

	rows, err := rt.db.QueryContext(ctx,
		`SELECT endpoint_name, COUNT(*),
			SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
			COALESCE(AVG(duration_ms), 0)
		 FROM attempt_logs WHERE start_time >= ? AND start_time <= ?
		 GROUP BY endpoint_name ORDER BY COUNT(*) DESC`,
		startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s EndpointSummary
		if err := rows.Scan(&s.EndpointName, &s.AttemptCount, &s.SuccessCount, &s.FailureCount, &s.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint summary row: %w", err)
		}
		stats.EndpointSummaries = append(stats.EndpointSummaries, s)
	}

	return stats, rows.Err()
}
