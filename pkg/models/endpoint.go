package models

import (
	"strings"
	"time"
)

// SupportedMethods are the HTTP methods eligible for endpoint auto-discovery.
// Traffic with any other method is still stored but never creates an Endpoint.
var SupportedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

// IsSupportedMethod reports whether method (any case) participates in
// endpoint discovery.
func IsSupportedMethod(method string) bool {
	return SupportedMethods[strings.ToUpper(method)]
}

// EndpointKey identifies an endpoint within one app.
type EndpointKey struct {
	Method string
	Path   string
}

// String renders the key as "METHOD path".
func (k EndpointKey) String() string {
	return k.Method + " " + k.Path
}

// Endpoint is a discovered (method, path) pair tracked in relational metadata.
type Endpoint struct {
	ID         string     `json:"id"`
	AppID      string     `json:"app_id"`
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	IsActive   bool       `json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Key returns the endpoint's identity within its app.
func (e *Endpoint) Key() EndpointKey {
	return EndpointKey{Method: e.Method, Path: e.Path}
}

// EndpointUpdate is one row of a bulk update. A nil LastSeenAt leaves the
// stored value untouched.
type EndpointUpdate struct {
	ID         string
	IsActive   bool
	LastSeenAt *time.Time
}
