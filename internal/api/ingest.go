package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/apilens/apilens/pkg/models"
)

// maxBodyBytes bounds ingest bodies. A full log batch with maximal
// payloads fits comfortably.
const maxBodyBytes = 64 << 20

// A single validator instance caches struct parsing.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// IngestRequestsBody is the body of POST /ingest/requests.
type IngestRequestsBody struct {
	Requests []models.RequestRecord `json:"requests" validate:"max=1000,dive"`
}

// IngestLogsBody is the body of POST /ingest/logs.
type IngestLogsBody struct {
	Logs []models.LogRecord `json:"logs" validate:"max=2000,dive"`
}

// IngestResponse reports how many records were written.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

func (s *Server) ingestRequests(w http.ResponseWriter, r *http.Request) {
	var body IngestRequestsBody
	if !readBody(w, r, &body) {
		return
	}
	n, err := s.ingester.IngestRequests(r.Context(), appIDFrom(r.Context()), body.Requests)
	s.respondIngest(w, "requests", n, err)
}

func (s *Server) ingestLogs(w http.ResponseWriter, r *http.Request) {
	var body IngestLogsBody
	if !readBody(w, r, &body) {
		return
	}
	n, err := s.ingester.IngestLogs(r.Context(), appIDFrom(r.Context()), body.Logs)
	s.respondIngest(w, "logs", n, err)
}

func (s *Server) respondIngest(w http.ResponseWriter, kind string, n int, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, IngestResponse{Accepted: n})
	case errors.Is(err, models.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("ingest failed", "kind", kind, "error", err)
		respondError(w, http.StatusServiceUnavailable, "analytical store unavailable")
	}
}

// readBody decodes and validates a JSON body. It writes the 400 response
// itself and reports whether the handler should continue.
func readBody(w http.ResponseWriter, r *http.Request, value any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(value); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("read body: %s", err))
		return false
	}

	err := validate.Struct(value)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]FieldError, 0, len(validationErrors))
		for _, ve := range validationErrors {
			fields = append(fields, FieldError{
				Field:  strings.TrimPrefix(ve.Namespace(), reflect.TypeOf(value).Elem().Name()+"."),
				Detail: fmt.Sprintf("validation failed for tag %q", ve.Tag()),
			})
		}
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
		return false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("validation: %s", err))
		return false
	}
	return true
}
