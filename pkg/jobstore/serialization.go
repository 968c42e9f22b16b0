package jobstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Scalar fields are stored as individual hash fields. Nested structures (inference
// config, meta snapshot) are JSON-encoded into a single field, so a partial update
// can replace them with one HSET.

// JobToHash converts a Job struct to a Redis hash format.
func JobToHash(j *Job) (map[string]interface{}, error) {
	configJSON, err := json.Marshal(j.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	metaJSON, err := encodeMeta(j.Meta)
	if err != nil {
		return nil, err
	}

	hash := map[string]interface{}{
		"job_id":         j.ID,
		"network_hash":   j.NetworkHash,
		"evidence_hash":  j.EvidenceHash,
		"config":         string(configJSON),
		"submit_time":    j.SubmitTime.UTC().Format(time.RFC3339Nano),
		"task_id":        j.TaskID,
		"phase":          string(j.Phase),
		"meta":           metaJSON,
		"posterior_hash": j.PosteriorHash,
		"error":          j.Error,
	}

	return hash, nil
}

// HashToJob converts a Redis hash to a Job struct.
func HashToJob(hash map[string]string) (*Job, error) {
	var cfg InferenceConfig
	if configJSON := hash["config"]; configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	submitTime, err := time.Parse(time.RFC3339Nano, hash["submit_time"])
	if err != nil {
		return nil, fmt.Errorf("invalid submit_time field: %w", err)
	}

	meta, err := decodeMeta(hash["meta"])
	if err != nil {
		return nil, err
	}

	phase := Phase(hash["phase"])
	if phase == "" {
		phase = PhasePending
	}

	job := &Job{
		ID:            hash["job_id"],
		NetworkHash:   hash["network_hash"],
		EvidenceHash:  hash["evidence_hash"],
		Config:        cfg,
		SubmitTime:    submitTime,
		TaskID:        hash["task_id"],
		Phase:         phase,
		Meta:          meta,
		PosteriorHash: hash["posterior_hash"],
		Error:         hash["error"],
	}

	return job, nil
}

// TaskStateToHash converts a TaskState to a Redis hash format.
// The phase rank is stored alongside the phase for the monotonic write script.
func TaskStateToHash(s *TaskState) (map[string]interface{}, error) {
	metaJSON, err := encodeMeta(s.Meta)
	if err != nil {
		return nil, err
	}

	hash := map[string]interface{}{
		"task_id":        s.TaskID,
		"job_id":         s.JobID,
		"phase":          string(s.Phase),
		"rank":           s.Phase.Rank(),
		"meta":           metaJSON,
		"posterior_hash": s.PosteriorHash,
		"error":          s.Error,
		"updated_at_ms":  s.UpdatedAtMs,
	}

	return hash, nil
}

// HashToTaskState converts a Redis hash to a TaskState.
func HashToTaskState(hash map[string]string) (*TaskState, error) {
	meta, err := decodeMeta(hash["meta"])
	if err != nil {
		return nil, err
	}

	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	state := &TaskState{
		TaskID:        hash["task_id"],
		JobID:         hash["job_id"],
		Phase:         Phase(hash["phase"]),
		Meta:          meta,
		PosteriorHash: hash["posterior_hash"],
		Error:         hash["error"],
		UpdatedAtMs:   updatedAtMs,
	}

	return state, nil
}

func encodeMeta(m *Meta) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta: %w", err)
	}
	return string(data), nil
}

func decodeMeta(s string) (*Meta, error) {
	if s == "" {
		return nil, nil
	}
	var m Meta
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	return &m, nil
}
