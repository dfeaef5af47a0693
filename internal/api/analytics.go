package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/apilens/apilens/internal/analytics"
)

// withFilter parses the shared filter and hands it to view. Parsing
// failures become 400 responses.
func withFilter(view func(w http.ResponseWriter, r *http.Request, f filterParams) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err == nil {
			err = view(w, r, filterParams{Filter: f, q: r.URL.Query()})
		}
		if err != nil {
			var br badRequest
			if errors.As(err, &br) {
				respondError(w, http.StatusBadRequest, br.msg)
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func (s *Server) endpointStats(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		page, err := intParam(p.q, "page", 1)
		if err != nil {
			return err
		}
		pageSize, err := intParam(p.q, "page_size", defaultPageSize)
		if err != nil {
			return err
		}
		order := analytics.ParseSort(p.q.Get("sort"), p.q.Get("order"))
		respondJSON(w, http.StatusOK, s.analytics.EndpointStats(r.Context(), p.Filter, order, page, pageSize))
		return nil
	})(w, r)
}

func (s *Server) consumerStats(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		limit, err := intParam(p.q, "limit", defaultLimit)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.ConsumerStats(r.Context(), p.Filter, limit))
		return nil
	})(w, r)
}

func (s *Server) consumerActivity(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		consumer, err := p.consumer()
		if err != nil {
			return err
		}
		limit, err := intParam(p.q, "limit", defaultActivityRows)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.ConsumerActivity(r.Context(), p.Filter, consumer, limit))
		return nil
	})(w, r)
}

func (s *Server) consumerRequestStats(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		consumer, err := p.consumer()
		if err != nil {
			return err
		}
		limit, err := intParam(p.q, "limit", defaultLimit)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.ConsumerRequestStats(r.Context(), p.Filter, consumer, limit))
		return nil
	})(w, r)
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		page, err := intParam(p.q, "page", 1)
		if err != nil {
			return err
		}
		pageSize, err := intParam(p.q, "page_size", defaultPageSize)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.Logs(r.Context(), p.Filter, page, pageSize))
		return nil
	})(w, r)
}

func (s *Server) logsSummary(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		respondJSON(w, http.StatusOK, s.analytics.LogsSummary(r.Context(), p.Filter))
		return nil
	})(w, r)
}

func (s *Server) logsTimeseries(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		bucket, err := intParam(p.q, "bucket_minutes", analytics.DefaultBucketMinutes)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.LogsTimeseries(r.Context(), p.Filter, bucket))
		return nil
	})(w, r)
}

func (s *Server) logsSearchOptions(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		limit, err := intParam(p.q, "limit", defaultLimit)
		if err != nil {
			return err
		}
		key := strings.TrimSpace(p.q.Get("key"))
		respondJSON(w, http.StatusOK, s.analytics.LogsSearchOptions(r.Context(), p.Filter, key, p.q.Get("prefix"), limit))
		return nil
	})(w, r)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		respondJSON(w, http.StatusOK, s.analytics.Summary(r.Context(), p.Filter))
		return nil
	})(w, r)
}

func (s *Server) timeseries(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		respondJSON(w, http.StatusOK, s.analytics.Timeseries(r.Context(), p.Filter))
		return nil
	})(w, r)
}

func (s *Server) relatedAPIs(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		respondJSON(w, http.StatusOK, s.analytics.RelatedAPIs(r.Context(), p.Filter))
		return nil
	})(w, r)
}

func (s *Server) endpointDetail(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		method, path, err := endpointParams(p.q)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.EndpointDetail(r.Context(), p.Filter, method, path))
		return nil
	})(w, r)
}

func (s *Server) endpointTimeseries(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		method, path, err := endpointParams(p.q)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.EndpointTimeseries(r.Context(), p.Filter, method, path))
		return nil
	})(w, r)
}

func (s *Server) endpointConsumers(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		method, path, err := endpointParams(p.q)
		if err != nil {
			return err
		}
		limit, err := intParam(p.q, "limit", defaultLimit)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.EndpointConsumers(r.Context(), p.Filter, method, path, limit))
		return nil
	})(w, r)
}

func (s *Server) endpointStatusCodes(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		method, path, err := endpointParams(p.q)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.EndpointStatusCodes(r.Context(), p.Filter, method, path))
		return nil
	})(w, r)
}

func (s *Server) endpointPayloads(w http.ResponseWriter, r *http.Request) {
	withFilter(func(w http.ResponseWriter, r *http.Request, p filterParams) error {
		method, path, err := endpointParams(p.q)
		if err != nil {
			return err
		}
		limit, err := intParam(p.q, "limit", defaultLimit)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusOK, s.analytics.EndpointPayloads(r.Context(), p.Filter, method, path, limit))
		return nil
	})(w, r)
}
