package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/pkg/models"
)

// Provisioned artifacts.
const (
	ArtifactRequestsTable   = "requests_table"
	ArtifactRequestPayloads = "request_payload_columns"
	ArtifactConsumerColumns = "consumer_columns"
	ArtifactLogsTable       = "logs_table"
)

// Artifact states.
const (
	stateUninitialized int32 = iota
	stateProvisioning
	stateReady
)

// Execer runs a statement. driver.Conn satisfies it.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

type artifact struct {
	name       string
	statements []string

	state atomic.Int32
	mu    sync.Mutex
}

// Provisioner creates tables, columns and indices once per process. Each
// artifact has its own gate so a failing artifact does not block the others.
type Provisioner struct {
	artifacts map[string]*artifact
	order     []string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewProvisioner builds the provisioner for a given retention.
func NewProvisioner(retentionDays int, logger *slog.Logger, m *metrics.Metrics) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	p := &Provisioner{
		artifacts: make(map[string]*artifact),
		logger:    logger,
		metrics:   m,
	}
	p.add(ArtifactRequestsTable, fmt.Sprintf(requestsTableDDL, models.RequestsTable, retentionDays))
	p.add(ArtifactRequestPayloads,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS request_payload String DEFAULT ''", models.RequestsTable),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS response_payload String DEFAULT ''", models.RequestsTable),
	)
	p.add(ArtifactConsumerColumns,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS consumer_id String DEFAULT ''", models.RequestsTable),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS consumer_name String DEFAULT ''", models.RequestsTable),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS consumer_group String DEFAULT ''", models.RequestsTable),
		fmt.Sprintf("ALTER TABLE %s ADD INDEX IF NOT EXISTS idx_consumer_id consumer_id TYPE bloom_filter GRANULARITY 4", models.RequestsTable),
	)
	p.add(ArtifactLogsTable,
		fmt.Sprintf(logsTableDDL, models.LogsTable, retentionDays),
		fmt.Sprintf("ALTER TABLE %s ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4", models.LogsTable),
	)
	return p
}

func (p *Provisioner) add(name string, statements ...string) {
	p.artifacts[name] = &artifact{name: name, statements: statements}
	p.order = append(p.order, name)
}

// Ensure provisions the named artifacts, or all of them when names is
// empty. Failures are logged and counted, never returned; the artifact is
// retried on the next call.
func (p *Provisioner) Ensure(ctx context.Context, exec Execer, names ...string) {
	if len(names) == 0 {
		names = p.order
	}
	for _, name := range names {
		a, ok := p.artifacts[name]
		if !ok {
			continue
		}
		p.ensure(ctx, exec, a)
	}
}

// Ready reports whether an artifact was provisioned.
func (p *Provisioner) Ready(name string) bool {
	a, ok := p.artifacts[name]
	return ok && a.state.Load() == stateReady
}

func (p *Provisioner) ensure(ctx context.Context, exec Execer, a *artifact) {
	if a.state.Load() == stateReady {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Load() == stateReady {
		return
	}

	a.state.Store(stateProvisioning)
	for _, stmt := range a.statements {
		if err := exec.Exec(ctx, stmt); err != nil {
			a.state.Store(stateUninitialized)
			p.metrics.Schema.ProvisionFailures.WithLabelValues(a.name).Inc()
			p.logger.Warn("schema provisioning failed, will retry on next call",
				"artifact", a.name,
				"error", err,
			)
			return
		}
	}
	a.state.Store(stateReady)
	p.logger.Debug("schema artifact ready", "artifact", a.name)
}

// Table DDL; the arguments are the table name and the retention in days.
const requestsTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	app_id           String,
	endpoint_id      String,
	environment      LowCardinality(String),
	timestamp        DateTime64(3, 'UTC'),
	method           LowCardinality(String),
	path             String,
	status_code      UInt16,
	response_time_ms Float64,
	request_size     UInt64,
	response_size    UInt64,
	ip_address       String,
	user_agent       String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (app_id, timestamp, method, path)
TTL toDateTime(timestamp) + INTERVAL %d DAY
`

const logsTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	app_id          String,
	environment     LowCardinality(String),
	timestamp       DateTime64(3, 'UTC'),
	level           LowCardinality(String),
	message         String,
	logger_name     String,
	endpoint_method LowCardinality(String),
	endpoint_path   String,
	status_code     UInt16,
	consumer_id     String,
	consumer_name   String,
	consumer_group  String,
	trace_id        String,
	span_id         String,
	payload         String,
	attributes      String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (app_id, timestamp, level)
TTL toDateTime(timestamp) + INTERVAL %d DAY
`
