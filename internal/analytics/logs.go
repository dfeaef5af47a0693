package analytics

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/pkg/models"
)

// BucketMinutes lists the accepted timeseries bucket widths.
var BucketMinutes = []int{5, 10, 15, 30, 60, 120, 180, 240, 360, 720, 1440}

// DefaultBucketMinutes is used for widths outside BucketMinutes.
const DefaultBucketMinutes = 5

// Logs returns a timestamp-descending page of log rows.
func (s *Service) Logs(ctx context.Context, f query.Filter, page, pageSize int) models.Page[models.LogEntry] {
	const view = "logs"
	page = max(page, 1)
	pageSize = clamp(pageSize, 1, MaxPageSize)
	empty := models.EmptyPage[models.LogEntry](page, pageSize)

	b := s.builder(f, query.Logs)
	var total int64
	err := s.run(ctx, view, b.Select("toInt64(count())", ""), b.Args(), func(rows driver.Rows) error {
		return rows.Scan(&total)
	})
	if err != nil {
		s.degrade(view, f, err)
		return empty
	}

	result := empty
	result.TotalCount = int(total)
	offset, ok := pageStart(result.TotalCount, page, pageSize)
	if !ok {
		return result
	}

	stmt := b.Select(`timestamp, environment, level, message, logger_name,
	endpoint_method, endpoint_path, toInt64(status_code),
	consumer_id, consumer_name, consumer_group, trace_id, span_id, payload, attributes`,
		"ORDER BY timestamp DESC\nLIMIT "+b.Bind("limit", pageSize)+" OFFSET "+b.Bind("offset", offset))

	err = s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var (
			e      models.LogEntry
			status int64
			attrs  string
		)
		if err := rows.Scan(&e.Timestamp, &e.Environment, &e.Level, &e.Message, &e.LoggerName,
			&e.EndpointMethod, &e.EndpointPath, &status,
			&e.ConsumerID, &e.ConsumerName, &e.ConsumerGroup, &e.TraceID, &e.SpanID, &e.Payload, &attrs); err != nil {
			return err
		}
		e.StatusCode = int(status)
		e.Attributes = DecodeAttributes(attrs)
		result.Items = append(result.Items, e)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return empty
	}
	return result
}

// DecodeAttributes turns the stored attribute JSON into a flat text map.
// Anything but a JSON object yields an empty map.
func DecodeAttributes(raw string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}

	var decoded map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return out
	}
	for k, v := range decoded {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// LogsSummary counts logs, errors, warnings and distinct loggers.
func (s *Service) LogsSummary(ctx context.Context, f query.Filter) models.LogsSummary {
	const view = "logs_summary"
	b := s.builder(f, query.Logs)
	errorLevels := b.Bind("error_levels", []string{models.LevelError, models.LevelCritical})
	warning := b.Bind("warning", models.LevelWarning)
	stmt := b.Select(`toInt64(count()),
	toInt64(countIf(has(`+errorLevels+`, level))),
	toInt64(countIf(level = `+warning+`)),
	toInt64(uniqExactIf(logger_name, logger_name != ''))`, "")

	var summary models.LogsSummary
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		return rows.Scan(&summary.TotalCount, &summary.ErrorCount, &summary.WarningCount, &summary.UniqueLogger)
	})
	if err != nil {
		s.degrade(view, f, err)
		return models.LogsSummary{}
	}
	return summary
}

// NormalizeBucket returns minutes when it is an accepted width, else
// DefaultBucketMinutes.
func NormalizeBucket(minutes int) int {
	for _, m := range BucketMinutes {
		if m == minutes {
			return m
		}
	}
	return DefaultBucketMinutes
}

// LogsTimeseries counts logs per fixed-width bucket.
func (s *Service) LogsTimeseries(ctx context.Context, f query.Filter, bucketMinutes int) []models.LogsBucket {
	const view = "logs_timeseries"
	b := s.builder(f, query.Logs)
	bucket := b.Bind("bucket_minutes", NormalizeBucket(bucketMinutes))
	errorLevels := b.Bind("error_levels", []string{models.LevelError, models.LevelCritical})
	warning := b.Bind("warning", models.LevelWarning)
	stmt := b.Select(`toStartOfInterval(timestamp, toIntervalMinute(`+bucket+`)) AS bucket,
	toInt64(count()),
	toInt64(countIf(has(`+errorLevels+`, level))),
	toInt64(countIf(level = `+warning+`))`,
		"GROUP BY bucket\nORDER BY bucket")

	out := []models.LogsBucket{}
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var lb models.LogsBucket
		if err := rows.Scan(&lb.Bucket, &lb.TotalCount, &lb.ErrorCount, &lb.WarningCount); err != nil {
			return err
		}
		lb.Bucket = lb.Bucket.UTC()
		out = append(out, lb)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return []models.LogsBucket{}
	}
	return out
}

// LogsSearchOptions lists attribute keys, logger names and, when key is
// set, candidate values of that key. Values of high-cardinality keys are
// withheld unless prefix has at least MinGuardedPrefixLen characters.
func (s *Service) LogsSearchOptions(ctx context.Context, f query.Filter, key, prefix string, limit int) models.LogsSearchOptions {
	const view = "logs_search_options"
	limit = clamp(limit, 1, MaxSearchOptionLimit)
	key = strings.TrimSpace(key)
	prefix = strings.TrimSpace(prefix)

	empty := models.LogsSearchOptions{Keys: []string{}, Values: []string{}, LoggerNames: []string{}}
	opts := empty

	collect := func(dst *[]string) func(driver.Rows) error {
		return func(rows driver.Rows) error {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			*dst = append(*dst, v)
			return nil
		}
	}

	b := s.builder(f, query.Logs)
	stmt := b.Select("DISTINCT arrayJoin(JSONExtractKeys(attributes)) AS k",
		"ORDER BY k\nLIMIT "+b.Bind("limit", limit))
	if err := s.run(ctx, view, stmt, b.Args(), collect(&opts.Keys)); err != nil {
		s.degrade(view, f, err)
		return empty
	}

	b = s.builder(f, query.Logs)
	b.And("logger_name != ''")
	stmt = b.Select("DISTINCT logger_name", "ORDER BY logger_name\nLIMIT "+b.Bind("limit", limit))
	if err := s.run(ctx, view, stmt, b.Args(), collect(&opts.LoggerNames)); err != nil {
		s.degrade(view, f, err)
		return empty
	}

	if key == "" {
		return opts
	}
	if s.guarded[strings.ToLower(key)] && len([]rune(prefix)) < MinGuardedPrefixLen {
		opts.ValuesSkipped = true
		return opts
	}

	b = s.builder(f, query.Logs)
	value := "JSONExtractString(attributes, " + b.Bind("key", key) + ")"
	b.And(value + " != ''")
	if prefix != "" {
		b.And("startsWith(" + value + ", " + b.Bind("prefix", prefix) + ")")
	}
	stmt = b.Select("DISTINCT "+value+" AS v", "ORDER BY v\nLIMIT "+b.Bind("limit", limit))
	if err := s.run(ctx, view, stmt, b.Args(), collect(&opts.Values)); err != nil {
		s.degrade(view, f, err)
		return empty
	}
	return opts
}
