package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/pkg/models"
)

const requestColumns = `app_id, endpoint_id, environment, timestamp, method, path, status_code,
	response_time_ms, request_size, response_size, ip_address, user_agent,
	consumer_id, consumer_name, consumer_group, request_payload, response_payload`

const logColumns = `app_id, environment, timestamp, level, message, logger_name,
	endpoint_method, endpoint_path, status_code, consumer_id, consumer_name,
	consumer_group, trace_id, span_id, payload, attributes`

// insertRequests sends rows as a single native batch. No retry happens
// here; the caller sees the failure.
func insertRequests(ctx context.Context, conn driver.Conn, rows []models.RequestRow) error {
	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", models.RequestsTable, requestColumns))
	if err != nil {
		return fmt.Errorf("preparing request batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.AppID,
			r.EndpointID,
			r.Environment,
			r.Timestamp,
			r.Method,
			r.Path,
			clampStatus(r.StatusCode),
			r.ResponseTimeMs,
			clampSize(r.RequestSize),
			clampSize(r.ResponseSize),
			r.IPAddress,
			r.UserAgent,
			r.ConsumerID,
			r.ConsumerName,
			r.ConsumerGroup,
			r.RequestPayload,
			r.ResponsePayload,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("appending request row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending request batch of %d rows: %w", len(rows), err)
	}
	return nil
}

func insertLogs(ctx context.Context, conn driver.Conn, rows []models.LogRow) error {
	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", models.LogsTable, logColumns))
	if err != nil {
		return fmt.Errorf("preparing log batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.AppID,
			r.Environment,
			r.Timestamp,
			r.Level,
			r.Message,
			r.LoggerName,
			r.EndpointMethod,
			r.EndpointPath,
			clampStatus(r.StatusCode),
			r.ConsumerID,
			r.ConsumerName,
			r.ConsumerGroup,
			r.TraceID,
			r.SpanID,
			r.Payload,
			r.Attributes,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("appending log row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending log batch of %d rows: %w", len(rows), err)
	}
	return nil
}

func clampStatus(code int) uint16 {
	switch {
	case code < 0:
		return 0
	case code > 65535:
		return 65535
	default:
		return uint16(code)
	}
}

func clampSize(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
