package jobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filenames declared for the blobs the system writes.
const (
	NetworkFilename   = "network.json"
	EvidenceFilename  = "evidence.json"
	PosteriorFilename = "posterior.json"
)

// Phase is the execution phase of a task as seen by polling clients.
// Phases only move forward: PENDING → BURNIN → SAMPLING → COMPLETE, with FAILED
// reachable from any non-terminal phase.
type Phase string

const (
	// PhasePending is reported until a worker records its first snapshot
	PhasePending Phase = "PENDING"

	// PhaseBurnin covers the loose-threshold batches whose samples are discarded
	PhaseBurnin Phase = "BURNIN"

	// PhaseSampling covers the strict-threshold batches that feed the posterior
	PhaseSampling Phase = "SAMPLING"

	// PhaseComplete is terminal; the posterior hash is attached
	PhaseComplete Phase = "COMPLETE"

	// PhaseFailed is terminal; the cause is attached
	PhaseFailed Phase = "FAILED"
)

// Validate checks if the Phase is a valid enum value.
func (p Phase) Validate() error {
	switch p {
	case PhasePending, PhaseBurnin, PhaseSampling, PhaseComplete, PhaseFailed:
		return nil
	default:
		return fmt.Errorf("unknown phase: %q", p)
	}
}

// Rank orders phases for the monotonicity check. Both terminal phases share the top rank.
func (p Phase) Rank() int {
	switch p {
	case PhaseBurnin:
		return 1
	case PhaseSampling:
		return 2
	case PhaseComplete, PhaseFailed:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further phase can follow p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Statistic is a convergence statistic. It is +Inf while undefined, which JSON
// cannot represent, so infinities and NaN are encoded as the strings "inf", "-inf"
// and "nan".
type Statistic float64

// MarshalJSON implements json.Marshaler.
func (s Statistic) MarshalJSON() ([]byte, error) {
	f := float64(s)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return []byte(`"nan"`), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler. Accepts numbers and the string forms.
func (s *Statistic) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		switch strings.ToLower(str) {
		case "inf", "+inf", "infinity":
			*s = Statistic(math.Inf(1))
		case "-inf", "-infinity":
			*s = Statistic(math.Inf(-1))
		case "nan":
			*s = Statistic(math.NaN())
		default:
			return fmt.Errorf("invalid statistic value: %q", str)
		}
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Statistic(f)
	return nil
}

// Meta is the progress snapshot a worker records after every batch.
type Meta struct {
	JobID       string     `json:"job_id"`
	WorkerID    string     `json:"worker_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	NSampled    int        `json:"n_sampled"`
	GRStat      Statistic  `json:"gr_stat"`
	ElapsedTime string     `json:"elapsed_time"`
}

// InferenceConfig enumerates the recognized inference options.
type InferenceConfig struct {
	UniformT  bool     `json:"uniform_t" yaml:"uniform_t"`
	TAlpha    *float64 `json:"t_alpha" yaml:"t_alpha"`
	TBeta     *float64 `json:"t_beta" yaml:"t_beta"`
	Zy        float64  `json:"zy" yaml:"zy"`
	Zn        float64  `json:"zn" yaml:"zn"`
	SLeniency float64  `json:"s_leniency" yaml:"s_leniency"`
}

// DefaultInferenceConfig returns the options used when a submission omits them.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		UniformT:  false,
		Zy:        0.99,
		Zn:        0,
		SLeniency: 0.1,
	}
}

// DecodeInferenceConfig decodes a JSON options object on top of the defaults.
// Unknown option names are rejected. Numeric ranges are left to the model.
func DecodeInferenceConfig(data []byte) (InferenceConfig, error) {
	cfg := DefaultInferenceConfig()
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return InferenceConfig{}, fmt.Errorf("invalid inference config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return InferenceConfig{}, err
	}
	return cfg, nil
}

// Validate rejects values that cannot be persisted as JSON.
func (c InferenceConfig) Validate() error {
	values := map[string]float64{"zy": c.Zy, "zn": c.Zn, "s_leniency": c.SLeniency}
	if c.TAlpha != nil {
		values["t_alpha"] = *c.TAlpha
	}
	if c.TBeta != nil {
		values["t_beta"] = *c.TBeta
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid inference config: %s must be finite", name)
		}
	}
	return nil
}

// Network maps a regulator id to its targets and the mode of regulation (-1, 0 or 1).
type Network map[string]map[string]int

// Validate checks that every edge carries a valid mode of regulation.
func (n Network) Validate() error {
	if len(n) == 0 {
		return fmt.Errorf("network cannot be empty")
	}
	for src, targets := range n {
		if src == "" {
			return fmt.Errorf("network contains an empty regulator id")
		}
		for trg, mode := range targets {
			if mode < -1 || mode > 1 {
				return fmt.Errorf("invalid mode of regulation %d for edge %s -> %s", mode, src, trg)
			}
		}
	}
	return nil
}

// Evidence maps a target id to its observed differential state (-1, 0 or 1).
type Evidence map[string]int

// Validate checks that every observation is -1, 0 or 1.
func (e Evidence) Validate() error {
	for node, v := range e {
		if v < -1 || v > 1 {
			return fmt.Errorf("invalid evidence value %d for %s", v, node)
		}
	}
	return nil
}

// Posterior holds the posterior mean estimates a completed job produces.
type Posterior struct {
	X map[string]float64 `json:"X"`
	T map[string]float64 `json:"T"`
}

// Job is the durable record of one submitted inference request.
// ID, NetworkHash, EvidenceHash, Config and SubmitTime are fixed at creation.
type Job struct {
	ID            string          `json:"job_id"`
	NetworkHash   string          `json:"network_hash"`
	EvidenceHash  string          `json:"evidence_hash"`
	Config        InferenceConfig `json:"config"`
	SubmitTime    time.Time       `json:"submit_time"`
	TaskID        string          `json:"task_id,omitempty"`
	Phase         Phase           `json:"phase"`
	Meta          *Meta           `json:"meta,omitempty"`
	PosteriorHash string          `json:"posterior_hash,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Validate checks if the Job has valid field values.
func (j *Job) Validate() error {
	if !isValidUUID(j.ID) {
		return fmt.Errorf("invalid job ID: not a valid UUID")
	}

	if !IsValidHash(j.NetworkHash) {
		return fmt.Errorf("invalid network hash: %q", j.NetworkHash)
	}

	if !IsValidHash(j.EvidenceHash) {
		return fmt.Errorf("invalid evidence hash: %q", j.EvidenceHash)
	}

	if j.SubmitTime.IsZero() {
		return fmt.Errorf("submit time cannot be zero")
	}

	if err := j.Phase.Validate(); err != nil {
		return fmt.Errorf("invalid phase: %w", err)
	}

	if j.PosteriorHash != "" && !IsValidHash(j.PosteriorHash) {
		return fmt.Errorf("invalid posterior hash: %q", j.PosteriorHash)
	}

	return j.Config.Validate()
}

// JobProgress is the set of job fields a worker may change after creation.
type JobProgress struct {
	Phase         Phase
	Meta          *Meta
	PosteriorHash string // left untouched when empty
	Error         string
}

// TaskMessage is the payload carried by the queue from dispatcher to worker.
type TaskMessage struct {
	TaskID       string `json:"task_id"`
	JobID        string `json:"job_id"`
	EnqueuedAtMs int64  `json:"enqueued_at_ms"`
}

// TaskState is the latest state of a task as recorded by its worker.
type TaskState struct {
	TaskID        string `json:"task_id"`
	JobID         string `json:"job_id"`
	Phase         Phase  `json:"phase"`
	Meta          *Meta  `json:"meta,omitempty"`
	PosteriorHash string `json:"posterior_hash,omitempty"`
	Error         string `json:"error,omitempty"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
}

// Validate checks if the TaskState has valid field values.
func (s *TaskState) Validate() error {
	if s.TaskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if err := s.Phase.Validate(); err != nil {
		return fmt.Errorf("invalid phase: %w", err)
	}
	if s.Phase == PhaseComplete && s.PosteriorHash == "" {
		return fmt.Errorf("complete task %s must carry a posterior hash", s.TaskID)
	}
	return nil
}

// StatusResult is the progress part of a status response.
type StatusResult struct {
	Meta          *Meta  `json:"meta"`
	PosteriorHash string `json:"posterior_hash,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Status is the answer to a status poll: the task phase and, once a worker
// reported anything, its latest snapshot.
type Status struct {
	TaskID string        `json:"task_id"`
	Status Phase         `json:"status"`
	Result *StatusResult `json:"result"`
}

// PendingStatus is the default shape for tasks with no recorded progress.
func PendingStatus(taskID string) *Status {
	return &Status{TaskID: taskID, Status: PhasePending}
}

// StatusFromTask converts a stored task state into a status response.
func StatusFromTask(s *TaskState) *Status {
	if s == nil {
		return nil
	}
	status := &Status{TaskID: s.TaskID, Status: s.Phase}
	if s.Meta != nil || s.PosteriorHash != "" || s.Error != "" {
		status.Result = &StatusResult{
			Meta:          s.Meta,
			PosteriorHash: s.PosteriorHash,
			Error:         s.Error,
		}
	}
	return status
}

// ContentHash returns the lowercase hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsValidHash reports whether s looks like a ContentHash result.
func IsValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
