package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/pkg/models"
)

// ConsumerStats ranks consumers by request count.
func (s *Service) ConsumerStats(ctx context.Context, f query.Filter, limit int) []models.ConsumerStat {
	return s.consumerStats(ctx, "consumer_stats", f, limit)
}

// EndpointConsumers ranks the consumers of one endpoint.
func (s *Service) EndpointConsumers(ctx context.Context, f query.Filter, method, path string, limit int) []models.ConsumerStat {
	return s.consumerStats(ctx, "endpoint_consumers", f.ForEndpoint(method, path), limit)
}

func (s *Service) consumerStats(ctx context.Context, view string, f query.Filter, limit int) []models.ConsumerStat {
	b := s.builder(f, query.Requests)
	stmt := b.Select(query.ConsumerExpr+` AS consumer,
	any(consumer_id), any(consumer_name), any(consumer_group),
	`+trafficColumns+`,
	max(timestamp) AS last_seen_at`,
		"GROUP BY consumer\nORDER BY total_requests DESC\nLIMIT "+b.Bind("limit", clamp(limit, 1, MaxConsumerLimit)))

	out := []models.ConsumerStat{}
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var (
			st       models.ConsumerStat
			lastSeen time.Time
		)
		dest := append([]any{&st.Consumer, &st.ConsumerID, &st.ConsumerName, &st.ConsumerGroup},
			trafficDest(&st.TrafficMetrics)...)
		dest = append(dest, &lastSeen)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		finishTraffic(&st.TrafficMetrics)
		st.LastSeenAt = timePtr(lastSeen)
		out = append(out, st)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return []models.ConsumerStat{}
	}
	return out
}

// ConsumerActivity returns the most recent raw requests of one consumer.
func (s *Service) ConsumerActivity(ctx context.Context, f query.Filter, consumer string, limit int) []models.RequestEntry {
	const view = "consumer_activity"
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return []models.RequestEntry{}
	}

	b := s.builder(f, query.Requests)
	b.And(query.ConsumerExpr + " = " + b.Bind("consumer", consumer))
	stmt := b.Select(requestEntryColumns,
		"ORDER BY timestamp DESC\nLIMIT "+b.Bind("limit", clamp(limit, 1, MaxActivityLimit)))

	out, err := s.requestEntries(ctx, view, stmt, b.Args(), false)
	if err != nil {
		s.degrade(view, f, err)
		return []models.RequestEntry{}
	}
	return out
}

// ConsumerRequestStats breaks one consumer's traffic down by endpoint.
func (s *Service) ConsumerRequestStats(ctx context.Context, f query.Filter, consumer string, limit int) []models.ConsumerEndpointStat {
	const view = "consumer_request_stats"
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return []models.ConsumerEndpointStat{}
	}

	b := s.builder(f, query.Requests)
	b.And(query.ConsumerExpr + " = " + b.Bind("consumer", consumer))
	stmt := b.Select(`method, path, `+trafficColumns+`, max(timestamp) AS last_seen_at`,
		"GROUP BY method, path\nORDER BY total_requests DESC\nLIMIT "+b.Bind("limit", clamp(limit, 1, MaxConsumerLimit)))

	out := []models.ConsumerEndpointStat{}
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var (
			st       models.ConsumerEndpointStat
			lastSeen time.Time
		)
		dest := append([]any{&st.Method, &st.Path}, trafficDest(&st.TrafficMetrics)...)
		dest = append(dest, &lastSeen)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		finishTraffic(&st.TrafficMetrics)
		st.LastSeenAt = timePtr(lastSeen)
		out = append(out, st)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return []models.ConsumerEndpointStat{}
	}
	return out
}

const requestEntryColumns = `timestamp, environment, method, path, toInt64(status_code),
	response_time_ms, toInt64(request_size), toInt64(response_size),
	ip_address, user_agent, consumer_id, consumer_name, consumer_group`

const requestEntryPayloadColumns = requestEntryColumns + `, request_payload, response_payload`

// requestEntries scans rows selected with requestEntryColumns, plus the
// payload columns when withPayloads is set.
func (s *Service) requestEntries(ctx context.Context, view, stmt string, args map[string]any, withPayloads bool) ([]models.RequestEntry, error) {
	out := []models.RequestEntry{}
	err := s.run(ctx, view, stmt, args, func(rows driver.Rows) error {
		var (
			e      models.RequestEntry
			status int64
		)
		dest := []any{&e.Timestamp, &e.Environment, &e.Method, &e.Path, &status,
			&e.ResponseTimeMs, &e.RequestSize, &e.ResponseSize,
			&e.IPAddress, &e.UserAgent, &e.ConsumerID, &e.ConsumerName, &e.ConsumerGroup}
		if withPayloads {
			dest = append(dest, &e.RequestPayload, &e.ResponsePayload)
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		e.StatusCode = int(status)
		e.Consumer = query.ConsumerOf(e.ConsumerName, e.ConsumerID, e.UserAgent, e.IPAddress)
		out = append(out, e)
		return nil
	})
	return out, err
}
