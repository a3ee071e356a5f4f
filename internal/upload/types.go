package upload

import (
	"context"
	"encoding/json"
	"time"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/storage"
)

// File is a candidate upload: the original filename, the declared MIME
// type, and the full content.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the terminal outcome of an upload. RetryAttempt is the attempt
// index (0-based) that produced the outcome.
type Result struct {
	Success      bool          `json:"success"`
	FilePath     string        `json:"file_path,omitempty"`
	PublicURL    string        `json:"public_url,omitempty"`
	Err          error         `json:"-"`
	Error        string        `json:"error,omitempty"`
	RetryAttempt int           `json:"retry_attempt"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"upload_duration_ms,omitempty"`
}

// Storage is the object-store surface the orchestrator consumes. Defined at
// the consumer per Go convention "accept interfaces, return structs";
// storage.Client provides the real implementation.
type Storage interface {
	Put(ctx context.Context, path string, data []byte, opts storage.PutOptions) error
	List(ctx context.Context, folder string) ([]storage.Entry, error)
	Remove(ctx context.Context, paths ...string) error
	ResolvePublic(ctx context.Context, path string) (string, error)
	BucketExists(ctx context.Context) (bool, error)
}

// Gate is the network health surface the orchestrator consumes. It is
// read-only and advisory; the orchestrator samples it once per upload and
// never mutates it. nethealth.Monitor provides the real implementation.
type Gate interface {
	Healthy() bool
	FailureRate() float64
	AvgResponseTime() time.Duration
	ActiveRequests() int
	QueuedRequests() int
}

// Condition is the assessed network condition at submission time.
type Condition int

const (
	// ConditionGood means the network is healthy with acceptable latency.
	ConditionGood Condition = iota
	// ConditionPoor means the network is up but degraded.
	ConditionPoor
	// ConditionOffline means the health gate reports the network down.
	ConditionOffline
)

func (c Condition) String() string {
	switch c {
	case ConditionPoor:
		return "poor"
	case ConditionOffline:
		return "offline"
	case ConditionGood:
		return "good"
	default:
		return "good"
	}
}

// MarshalJSON renders the condition as its string form for metrics export.
func (c Condition) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON parses the string form produced by MarshalJSON. Unknown
// values decode as good.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "poor":
		*c = ConditionPoor
	case "offline":
		*c = ConditionOffline
	default:
		*c = ConditionGood
	}

	return nil
}

// Degraded-network thresholds for condition classification.
const (
	poorFailureRate = 0.2
	poorLatency     = 5 * time.Second
)

// classifyCondition samples the gate and classifies the current network
// condition. Called once per upload at submission; the result drives the
// whole invocation's backoff schedule deterministically.
func classifyCondition(g Gate) Condition {
	if !g.Healthy() {
		return ConditionOffline
	}

	if g.FailureRate() > poorFailureRate || g.AvgResponseTime() > poorLatency {
		return ConditionPoor
	}

	return ConditionGood
}
