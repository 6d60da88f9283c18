// Package constants holds tunables for the transfer orchestrator.
package constants

import "time"

// Transfer buffer and progress cadence
const (
	// DownloadBufferSize is the read/write buffer size used by transfer agents.
	DownloadBufferSize = 512 * 1024

	// MinProgressIntervalBytes is the floor for the progress emission throttle.
	MinProgressIntervalBytes = 100 * 1024

	// ProgressEventTarget is the approximate number of progress events per transfer.
	// update_interval is sized as clamp(bytes_total/ProgressEventTarget, base, base*ProgressEventTarget).
	ProgressEventTarget = 20
)

// Low-speed and connect timeouts
const (
	// LowSpeedFloorBytesPerSec is the minimum acceptable average throughput
	// over LowSpeedWindow before a transfer is considered stalled.
	LowSpeedFloorBytesPerSec = 10

	// LowSpeedWindow is the measurement window for the low-speed floor.
	LowSpeedWindow = 10 * time.Second

	// ConnectTimeout bounds TCP/TLS connection establishment.
	ConnectTimeout = 60 * time.Second

	// ReceiveTimeout bounds waiting for the next chunk once connected.
	ReceiveTimeout = 10 * time.Second
)

// Redirect handling
const (
	// MaxRedirects is the initial redirect budget for a logical transfer.
	MaxRedirects = 5
)

// HTTP transport tuning, grounded on the teacher's CreateOptimizedClient
// connection-pool settings.
const (
	HTTPDialTimeout          = ConnectTimeout
	HTTPDialKeepAlive        = 30 * time.Second
	HTTPIdleConnTimeout      = 90 * time.Second
	HTTPTLSHandshakeTimeout  = 60 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPMaxIdleConns          = 512
	HTTPMaxIdleConnsPerHost   = 100
	HTTPMaxConnsPerHost       = 100
)

// Admission defaults
const (
	// DefaultMaxQueueLength caps active_set + queue at admission time.
	DefaultMaxQueueLength = 128

	// DefaultMaxConcurrent caps the size of the active set.
	DefaultMaxConcurrent = 2
)

// ResourceGuard free-space zones, expressed as percent of total filesystem
// capacity remaining free. Thresholds are inclusive upper bounds: a
// filesystem at or below LowFullPercent free is "low", and so on down to
// CriticalFullPercent. A filesystem with DefaultStopRemainKB or less free
// is "stop", where admission and resume are refused.
const (
	DefaultLowFullPercent      = 20
	DefaultMedFullPercent      = 10
	DefaultHighFullPercent     = 5
	DefaultCriticalFullPercent = 2
	DefaultStopRemainKB        = 51200 // 50 MiB
)

// Event bus buffering, carried over from the event-pipeline tuning the
// orchestrator's predecessor used for its own GUI event stream.
const (
	EventBusDefaultBuffer = 1000
	EventBusMaxBuffer     = 5000
)

// InterfaceMonitor polling
const (
	// InterfaceMonitorPollInterval is how often the connectivity probe is sampled
	// when no edge-triggered notification source is available.
	InterfaceMonitorPollInterval = 5 * time.Second
)

// HistoryStore
const (
	// HistorySchemaVersion is written to the ticket-0 sentinel row. A mismatch
	// on open triggers drop-and-recreate of the transfers table.
	HistorySchemaVersion = "transferd-history-v1"
)
