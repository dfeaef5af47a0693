// Package normalize turns ingested records into storage-ready records.
//
// Normalization never rejects a record: oversized fields are truncated,
// unknown levels fall back to INFO and unsupported attribute values are
// dropped. The output is deterministic for a given input.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/apilens/apilens/pkg/models"
)

var levelAliases = map[string]string{
	"DEBUG":    models.LevelDebug,
	"INFO":     models.LevelInfo,
	"WARNING":  models.LevelWarning,
	"WARN":     models.LevelWarning,
	"ERROR":    models.LevelError,
	"CRITICAL": models.LevelCritical,
	"FATAL":    models.LevelCritical,
}

// Requests returns a normalized copy of records. The input is not modified.
func Requests(records []models.RequestRecord) []models.RequestRecord {
	out := make([]models.RequestRecord, len(records))
	for i, rec := range records {
		rec.Method = strings.ToUpper(strings.TrimSpace(rec.Method))
		rec.ConsumerID = Truncate(rec.ConsumerID, models.MaxConsumerFieldLen)
		rec.ConsumerName = Truncate(rec.ConsumerName, models.MaxConsumerFieldLen)
		rec.ConsumerGroup = Truncate(rec.ConsumerGroup, models.MaxConsumerFieldLen)
		rec.RequestPayload = Truncate(rec.RequestPayload, models.MaxPayloadLen)
		rec.ResponsePayload = Truncate(rec.ResponsePayload, models.MaxPayloadLen)
		if rec.ResponseTimeMs < 0 {
			rec.ResponseTimeMs = 0
		}
		out[i] = rec
	}
	return out
}

// Logs returns a normalized copy of records. The input is not modified.
func Logs(records []models.LogRecord) []models.LogRecord {
	out := make([]models.LogRecord, len(records))
	for i, rec := range records {
		rec.Level = Level(rec.Level)
		rec.Message = Truncate(rec.Message, models.MaxMessageLen)
		rec.LoggerName = Truncate(rec.LoggerName, models.MaxLoggerNameLen)
		rec.Payload = Truncate(rec.Payload, models.MaxPayloadLen)
		rec.EndpointMethod = strings.ToUpper(strings.TrimSpace(rec.EndpointMethod))
		rec.ConsumerID = Truncate(rec.ConsumerID, models.MaxConsumerFieldLen)
		rec.ConsumerName = Truncate(rec.ConsumerName, models.MaxConsumerFieldLen)
		rec.ConsumerGroup = Truncate(rec.ConsumerGroup, models.MaxConsumerFieldLen)
		rec.TraceID = Truncate(rec.TraceID, models.MaxTraceIDLen)
		rec.SpanID = Truncate(rec.SpanID, models.MaxTraceIDLen)
		rec.Attributes = Attributes(rec.Attributes)
		out[i] = rec
	}
	return out
}

// Level maps any level string onto one of the canonical levels.
// Matching is case-insensitive; unrecognized input maps to INFO.
func Level(level string) string {
	if canonical, ok := levelAliases[strings.ToUpper(strings.TrimSpace(level))]; ok {
		return canonical
	}
	return models.LevelInfo
}

// Attributes flattens attrs into at most MaxAttributes text-valued entries.
// Nested values drop the whole key. Entries past the cap are dropped in
// input order. A repeated key keeps its first position and its last value.
func Attributes(attrs models.Attributes) models.Attributes {
	out := make(models.Attributes, 0, min(len(attrs), models.MaxAttributes))
	index := make(map[string]int, len(attrs))

	for _, attr := range attrs {
		key := Truncate(strings.TrimSpace(attr.Key), models.MaxAttributeKeyLen)
		if key == "" {
			continue
		}
		value, ok := scalarText(attr.Value)
		if !ok {
			continue
		}
		value = Truncate(value, models.MaxAttributeValueLen)

		if i, seen := index[key]; seen {
			out[i].Value = value
			continue
		}
		if len(out) >= models.MaxAttributes {
			continue
		}
		index[key] = len(out)
		out = append(out, models.Attribute{Key: key, Value: value})
	}
	return out
}

// scalarText renders a scalar attribute value as text. It reports false for
// nil, nested and unknown values.
func scalarText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint32:
		return strconv.FormatUint(uint64(val), 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Truncate clamps s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
