package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/pkg/models"
)

// SortKey orders endpoint stats.
type SortKey string

const (
	SortTotalRequests   SortKey = "total_requests"
	SortEndpoint        SortKey = "endpoint"
	SortErrorRate       SortKey = "error_rate"
	SortAvgResponseTime SortKey = "avg_response_time"
	SortP95ResponseTime SortKey = "p95_response_time"
	SortTotalBytes      SortKey = "total_bytes"
	SortLastSeenAt      SortKey = "last_seen_at"
)

// Sort is a sort key and direction.
type Sort struct {
	Key  SortKey
	Desc bool
}

// ParseSort reads a sort key and an "asc"/"desc" order. Unknown keys fall
// back to total_requests; the order defaults to descending.
func ParseSort(key, order string) Sort {
	s := Sort{Key: SortKey(strings.ToLower(strings.TrimSpace(key))), Desc: !strings.EqualFold(order, "asc")}
	switch s.Key {
	case SortTotalRequests, SortEndpoint, SortErrorRate, SortAvgResponseTime,
		SortP95ResponseTime, SortTotalBytes, SortLastSeenAt:
	default:
		s.Key = SortTotalRequests
	}
	return s
}

// EndpointStats aggregates traffic per (method, path), merges it with the
// registered endpoints, sorts and paginates.
func (s *Service) EndpointStats(ctx context.Context, f query.Filter, order Sort, page, pageSize int) models.Page[models.EndpointStat] {
	const view = "endpoint_stats"
	page = max(page, 1)
	pageSize = clamp(pageSize, 1, MaxPageSize)

	b := s.builder(f, query.Requests)
	stmt := b.Select(`method, path, `+trafficColumns+`,
	toInt64(sum(request_size)) AS total_request_bytes,
	toInt64(sum(response_size)) AS total_response_bytes,
	max(timestamp) AS last_seen_at`,
		"GROUP BY method, path")

	var aggregates []models.EndpointStat
	err := s.run(ctx, view, stmt, b.Args(), func(rows driver.Rows) error {
		var (
			st       models.EndpointStat
			lastSeen time.Time
		)
		dest := append([]any{&st.Method, &st.Path}, trafficDest(&st.TrafficMetrics)...)
		dest = append(dest, &st.TotalRequestBytes, &st.TotalResponseBytes, &lastSeen)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		finishTraffic(&st.TrafficMetrics)
		st.LastSeenAt = timePtr(lastSeen)
		aggregates = append(aggregates, st)
		return nil
	})
	if err != nil {
		s.degrade(view, f, err)
		return models.EmptyPage[models.EndpointStat](page, pageSize)
	}

	var registered []*models.Endpoint
	if s.endpoints != nil {
		registered, err = s.endpoints.ListEndpoints(ctx, f.AppID)
		if err != nil {
			s.logger.Warn("listing endpoints failed, showing traffic only",
				"app_id", f.AppID,
				"error", err,
			)
			registered = nil
		}
	}

	merged := MergeEndpointStats(aggregates, registered, f)
	SortEndpointStats(merged, order)
	return Paginate(merged, page, pageSize)
}

// MergeEndpointStats outer-joins traffic aggregates with registered
// endpoints on (method, path). Registered endpoints come first in their
// given order, carrying their traffic or zero metrics; traffic with no
// registered endpoint follows with a nil EndpointID. Registered endpoints
// are narrowed by the filter's method, path, pair and search criteria.
func MergeEndpointStats(aggregates []models.EndpointStat, registered []*models.Endpoint, f query.Filter) []models.EndpointStat {
	byKey := make(map[models.EndpointKey]int, len(aggregates))
	for i, a := range aggregates {
		byKey[models.EndpointKey{Method: a.Method, Path: a.Path}] = i
	}

	out := make([]models.EndpointStat, 0, len(aggregates)+len(registered))
	used := make(map[int]bool, len(aggregates))

	for _, ep := range registered {
		if !matchesEndpoint(ep, f) {
			continue
		}
		id := ep.ID
		st := models.EndpointStat{
			EndpointID: &id,
			Method:     ep.Method,
			Path:       ep.Path,
			IsActive:   ep.IsActive,
			LastSeenAt: ep.LastSeenAt,
		}
		if i, ok := byKey[ep.Key()]; ok {
			agg := aggregates[i]
			used[i] = true
			st.TrafficMetrics = agg.TrafficMetrics
			st.TotalRequestBytes = agg.TotalRequestBytes
			st.TotalResponseBytes = agg.TotalResponseBytes
			if agg.LastSeenAt != nil {
				st.LastSeenAt = agg.LastSeenAt
			}
		}
		out = append(out, st)
	}

	for i, agg := range aggregates {
		if used[i] {
			continue
		}
		agg.EndpointID = nil
		agg.IsActive = false
		out = append(out, agg)
	}
	return out
}

func matchesEndpoint(ep *models.Endpoint, f query.Filter) bool {
	if len(f.Methods) > 0 && !containsFold(f.Methods, ep.Method) {
		return false
	}
	if len(f.Paths) > 0 && !contains(f.Paths, ep.Path) {
		return false
	}
	if len(f.Pairs) > 0 {
		found := false
		for _, p := range f.Pairs {
			if strings.EqualFold(p.Method, ep.Method) && p.Path == ep.Path {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		if !strings.Contains(strings.ToLower(ep.Method), search) && !strings.Contains(strings.ToLower(ep.Path), search) {
			return false
		}
	}
	return true
}

// SortEndpointStats sorts stats in place. Ties keep their merge order.
func SortEndpointStats(stats []models.EndpointStat, order Sort) {
	less := func(a, b *models.EndpointStat) bool {
		switch order.Key {
		case SortEndpoint:
			if a.Method != b.Method {
				return a.Method < b.Method
			}
			return a.Path < b.Path
		case SortErrorRate:
			return a.ErrorRate < b.ErrorRate
		case SortAvgResponseTime:
			return a.AvgResponseTimeMs < b.AvgResponseTimeMs
		case SortP95ResponseTime:
			return a.P95ResponseTimeMs < b.P95ResponseTimeMs
		case SortTotalBytes:
			return a.TotalBytes() < b.TotalBytes()
		case SortLastSeenAt:
			return timeOrZero(a.LastSeenAt).Before(timeOrZero(b.LastSeenAt))
		default:
			return a.TotalRequests < b.TotalRequests
		}
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if order.Desc {
			return less(&stats[j], &stats[i])
		}
		return less(&stats[i], &stats[j])
	})
}

// Paginate slices items for a 1-based page.
func Paginate[T any](items []T, page, pageSize int) models.Page[T] {
	page = max(page, 1)
	pageSize = clamp(pageSize, 1, MaxPageSize)

	result := models.EmptyPage[T](page, pageSize)
	result.TotalCount = len(items)

	start, ok := pageStart(len(items), page, pageSize)
	if !ok {
		return result
	}
	end := min(start+pageSize, len(items))
	result.Items = append(result.Items, items[start:end]...)
	return result
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(strings.TrimSpace(x), v) {
			return true
		}
	}
	return false
}
