package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a proving job.
type Status string

// Job status constants.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Kind selects which trace generator a job uses.
type Kind string

// Program kinds.
const (
	KindCairo  Kind = "cairo"
	KindCairo0 Kind = "cairo0"
)

// Layouts lists the execution layouts understood by the trace generators.
// The list is informational; unknown layouts are rejected by the external
// programs, not by the service.
var Layouts = []string{
	"plain",
	"small",
	"dex",
	"recursive",
	"starknet",
	"starknet_with_keccak",
	"recursive_large_output",
	"recursive_with_poseidon",
	"all_solidity",
	"all_cairo",
	"dynamic",
}

// validTransitions maps each status to the set of statuses it may transition to.
// Queued jobs may fail directly only when the dispatcher shuts down before
// they obtain a slot.
var validTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one proof-generation request tracked from submission to terminal status.
type Job struct {
	ID         uint64     `json:"id"`
	Status     Status     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Kind       Kind       `json:"kind"`
	Layout     string     `json:"layout"`
	Workdir    string     `json:"workdir,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of j so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// ProverInput is the caller-supplied program, its input and the execution layout.
// Program and ProgramInput are kept as raw JSON; they are only interpreted by
// the pipeline when writing artifacts.
type ProverInput struct {
	Kind         Kind            `json:"-"`
	Program      json.RawMessage `json:"program"`
	ProgramInput json.RawMessage `json:"program_input"`
	Layout       string          `json:"layout"`
}
