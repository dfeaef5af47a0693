package receiver

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/apilens/apilens/pkg/models"
)

// DefaultEnvironment is used when the resource has no
// deployment.environment attribute.
const DefaultEnvironment = "production"

// Resource attribute keys carrying the environment, newest convention first.
var environmentKeys = []string{"deployment.environment.name", "deployment.environment"}

// HTTP semantic-convention keys lifted out of log attributes.
var (
	methodKeys = []string{"http.request.method", "http.method"}
	routeKeys  = []string{"http.route", "url.path", "http.target"}
	statusKeys = []string{"http.response.status_code", "http.status_code"}
)

// checkBatchSize rejects batches larger than models.MaxLogBatchSize.
func checkBatchSize(records []models.LogRecord) error {
	if len(records) > models.MaxLogBatchSize {
		return fmt.Errorf("%w: %d log records exceed the limit of %d per batch",
			models.ErrInvalidInput, len(records), models.MaxLogBatchSize)
	}
	return nil
}

// ConvertLogs flattens an export request into log records. now stamps
// records that carry neither a time nor an observed time.
func ConvertLogs(req *collogspb.ExportLogsServiceRequest, now time.Time) []models.LogRecord {
	var out []models.LogRecord
	for _, rl := range req.GetResourceLogs() {
		resourceAttrs := rl.GetResource().GetAttributes()
		env := firstString(resourceAttrs, environmentKeys)
		if env == "" {
			env = DefaultEnvironment
		}

		for _, sl := range rl.GetScopeLogs() {
			logger := sl.GetScope().GetName()
			for _, lr := range sl.GetLogRecords() {
				out = append(out, convertRecord(lr, env, logger, now))
			}
		}
	}
	return out
}

func convertRecord(lr *logspb.LogRecord, env, logger string, now time.Time) models.LogRecord {
	rec := models.LogRecord{
		Timestamp:   recordTime(lr, now),
		Environment: env,
		Level:       SeverityLevel(lr.GetSeverityText(), lr.GetSeverityNumber()),
		Message:     bodyText(lr.GetBody()),
		LoggerName:  logger,
		TraceID:     hexID(lr.GetTraceId()),
		SpanID:      hexID(lr.GetSpanId()),
	}

	attrs := lr.GetAttributes()
	rec.EndpointMethod = firstString(attrs, methodKeys)
	rec.EndpointPath = firstString(attrs, routeKeys)
	if code, ok := firstInt(attrs, statusKeys); ok && code >= 0 && code <= 999 {
		rec.StatusCode = int(code)
	}

	rec.Attributes = make(models.Attributes, 0, len(attrs))
	for _, kv := range attrs {
		rec.Attributes = append(rec.Attributes, models.Attribute{Key: kv.GetKey(), Value: attributeValue(kv.GetValue())})
	}
	return rec
}

func recordTime(lr *logspb.LogRecord, now time.Time) time.Time {
	if ts := lr.GetTimeUnixNano(); ts > 0 {
		return time.Unix(0, int64(ts)).UTC()
	}
	if ts := lr.GetObservedTimeUnixNano(); ts > 0 {
		return time.Unix(0, int64(ts)).UTC()
	}
	return now.UTC()
}

// SeverityLevel maps an OTLP severity to a level name. The text wins when
// present; otherwise the number's band decides. Unknown values come back
// empty and are defaulted downstream.
func SeverityLevel(text string, number logspb.SeverityNumber) string {
	if text != "" {
		return text
	}
	switch n := int32(number); {
	case n >= 1 && n <= 8:
		return models.LevelDebug
	case n >= 9 && n <= 12:
		return models.LevelInfo
	case n >= 13 && n <= 16:
		return models.LevelWarning
	case n >= 17 && n <= 20:
		return models.LevelError
	case n >= 21 && n <= 24:
		return models.LevelCritical
	default:
		return ""
	}
}

func bodyText(v *commonpb.AnyValue) string {
	if v == nil {
		return ""
	}
	if s, ok := v.GetValue().(*commonpb.AnyValue_StringValue); ok {
		return s.StringValue
	}
	switch val := attributeValue(v).(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// attributeValue converts an OTLP value to a Go value. Arrays and maps
// become nested values, which the normalizer drops.
func attributeValue(value *commonpb.AnyValue) any {
	if value == nil {
		return nil
	}

	switch v := value.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return v.StringValue
	case *commonpb.AnyValue_IntValue:
		return v.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return v.DoubleValue
	case *commonpb.AnyValue_BoolValue:
		return v.BoolValue
	case *commonpb.AnyValue_ArrayValue:
		values := v.ArrayValue.GetValues()
		out := make([]any, len(values))
		for i, e := range values {
			out[i] = attributeValue(e)
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		out := make(map[string]any)
		for _, kv := range v.KvlistValue.GetValues() {
			out[kv.GetKey()] = attributeValue(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}

func firstString(attrs []*commonpb.KeyValue, keys []string) string {
	for _, key := range keys {
		for _, kv := range attrs {
			if kv.GetKey() == key {
				if s := kv.GetValue().GetStringValue(); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func firstInt(attrs []*commonpb.KeyValue, keys []string) (int64, bool) {
	for _, key := range keys {
		for _, kv := range attrs {
			if kv.GetKey() != key {
				continue
			}
			switch v := attributeValue(kv.GetValue()).(type) {
			case int64:
				return v, true
			case string:
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func hexID(id []byte) string {
	if len(id) == 0 {
		return ""
	}
	for _, b := range id {
		if b != 0 {
			return hex.EncodeToString(id)
		}
	}
	return ""
}
