package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the scheduler.
type Config struct {
	// Timezone is an IANA zone for cron specs; empty means Local.
	Timezone string
	// Spread delays the first run of interval jobs by a random amount up to
	// min(interval, 30s).
	Spread bool
}

// Job is a scheduled function. ctx carries the job timeout.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	spread  time.Duration
	state   *runState
}

type runState struct {
	mu       sync.Mutex
	running  bool
	runs     uint64
	failures uint64
	skipped  uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

// JobInfo is a job's schedule and run statistics.
type JobInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	Skipped  uint64        `json:"skipped"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastTook time.Duration `json:"last_took"`
	LastErr  string        `json:"last_err,omitempty"`
}

type Snapshot struct {
	Running  bool      `json:"running"`
	Timezone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
}
