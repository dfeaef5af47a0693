package analytics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/pkg/models"
)

// familyExpr is the first path segment, "/users" for "/users/42/orders".
const familyExpr = `concat('/', extract(path, '^/*([^/?#]*)'))`

// Summary aggregates the whole window.
func (s *Service) Summary(ctx context.Context, f query.Filter) models.Summary {
	const view = "summary"
	b := s.builder(f, query.Requests)
	stmt := b.Select(trafficColumns+`,
	toInt64(sum(request_size)),
	toInt64(sum(response_size)),
	toInt64(uniqExact(method, path)),
	toInt64(uniqExact(`+query.ConsumerExpr+`))`, "")

	var sum models.Summary
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		dest := append(trafficDest(&sum.TrafficMetrics),
			&sum.TotalRequestBytes, &sum.TotalResponseBytes, &sum.UniqueEndpoints, &sum.UniqueConsumers)
		return rows.Scan(dest...)
	})
	if err != nil {
		s.degrade(view, f, err)
		return models.Summary{}
	}
	finishTraffic(&sum.TrafficMetrics)
	return sum
}

// Timeseries returns hourly traffic metrics.
func (s *Service) Timeseries(ctx context.Context, f query.Filter) []models.TimeseriesPoint {
	return s.hourly(ctx, "timeseries", f)
}

// EndpointTimeseries returns hourly traffic metrics of one endpoint.
func (s *Service) EndpointTimeseries(ctx context.Context, f query.Filter, method, path string) []models.TimeseriesPoint {
	return s.hourly(ctx, "endpoint_timeseries", f.ForEndpoint(method, path))
}

func (s *Service) hourly(ctx context.Context, view string, f query.Filter) []models.TimeseriesPoint {
	b := s.builder(f, query.Requests)
	stmt := b.Select("toStartOfHour(timestamp) AS bucket, "+trafficColumns, "GROUP BY bucket\nORDER BY bucket")

	out := []models.TimeseriesPoint{}
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var p models.TimeseriesPoint
		dest := append([]any{&p.Bucket}, trafficDest(&p.TrafficMetrics)...)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		p.Bucket = p.Bucket.UTC()
		finishTraffic(&p.TrafficMetrics)
		out = append(out, p)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return []models.TimeseriesPoint{}
	}
	return out
}

// RelatedAPIs groups traffic by the first path segment.
func (s *Service) RelatedAPIs(ctx context.Context, f query.Filter) []models.RelatedAPI {
	const view = "related_apis"
	b := s.builder(f, query.Requests)
	stmt := b.Select(familyExpr+` AS family,
	toInt64(uniqExact(method, path)),
	`+trafficColumns,
		"GROUP BY family\nORDER BY total_requests DESC\nLIMIT "+b.Bind("limit", relatedFamiliesLimit))

	out := []models.RelatedAPI{}
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var r models.RelatedAPI
		dest := append([]any{&r.Family, &r.UniqueEndpoints}, trafficDest(&r.TrafficMetrics)...)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		finishTraffic(&r.TrafficMetrics)
		out = append(out, r)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return []models.RelatedAPI{}
	}
	return out
}

// EndpointDetail aggregates one endpoint. With no traffic the metrics are
// zero and the seen timestamps nil.
func (s *Service) EndpointDetail(ctx context.Context, f query.Filter, method, path string) models.EndpointDetail {
	const view = "endpoint_detail"
	scoped := f.ForEndpoint(method, path)
	detail := models.EndpointDetail{Method: scoped.Pairs[0].Method, Path: path}

	b := s.builder(scoped, query.Requests)
	stmt := b.Select(trafficColumns+`,
	toInt64(sum(request_size)),
	toInt64(sum(response_size)),
	toInt64(uniqExact(`+query.ConsumerExpr+`)),
	min(timestamp),
	max(timestamp)`, "")

	result := detail
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var first, last time.Time
		dest := append(trafficDest(&result.TrafficMetrics),
			&result.TotalRequestBytes, &result.TotalResponseBytes, &result.UniqueConsumers, &first, &last)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if result.TotalRequests > 0 {
			result.FirstSeenAt = timePtr(first)
			result.LastSeenAt = timePtr(last)
		}
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return detail
	}
	finishTraffic(&result.TrafficMetrics)
	return result
}

// EndpointStatusCodes returns the status-code histogram of one endpoint.
func (s *Service) EndpointStatusCodes(ctx context.Context, f query.Filter, method, path string) []models.StatusCodeCount {
	const view = "endpoint_status_codes"
	b := s.builder(f.ForEndpoint(method, path), query.Requests)
	stmt := b.Select("toInt64(status_code) AS code, toInt64(count())", "GROUP BY code\nORDER BY code")

	out := []models.StatusCodeCount{}
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var (
			code int64
			c    models.StatusCodeCount
		)
		if err := rows.Scan(&code, &c.Count); err != nil {
			return err
		}
		c.StatusCode = int(code)
		out = append(out, c)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return []models.StatusCodeCount{}
	}
	return out
}

// EndpointPayloads returns a bounded sample of recent requests of one
// endpoint that carried a payload.
func (s *Service) EndpointPayloads(ctx context.Context, f query.Filter, method, path string, limit int) []models.RequestEntry {
	const view = "endpoint_payloads"
	b := s.builder(f.ForEndpoint(method, path), query.Requests)
	b.And("(request_payload != '' OR response_payload != '')")
	stmt := b.Select(requestEntryPayloadColumns,
		"ORDER BY timestamp DESC\nLIMIT "+b.Bind("limit", clamp(limit, 1, MaxPayloadLimit)))

	out, err := s.requestEntries(ctx, view, stmt, b.Args(), true)
	if err != nil {
		s.degrade(view, f, err)
		return []models.RequestEntry{}
	}
	return out
}
