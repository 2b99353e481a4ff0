package spool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNoSuchJob = errors.New("spool: no such job")

// JobState is the progress of one physical job
type JobState string

const (
	JobQueued   JobState = "queued"
	JobSending  JobState = "sending"
	JobComplete JobState = "complete"
	JobFailed   JobState = "failed"
)

// JobInfo describes one physical job
type JobInfo struct {
	Index     int       `json:"index"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	State     JobState  `json:"state"`
	Printer   string    `json:"printer"`
	Sink      string    `json:"sink"`
	Bytes     int       `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobLog records every physical job of a session in submission order
type JobLog struct {
	mu   sync.Mutex
	jobs []*JobInfo
}

func (l *JobLog) add(title, target, sink string, size int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	index := len(l.jobs)
	l.jobs = append(l.jobs, &JobInfo{
		Index:     index,
		ID:        uuid.New().String(),
		Title:     title,
		State:     JobQueued,
		Printer:   target,
		Sink:      sink,
		Bytes:     size,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return index
}

func (l *JobLog) update(index int, fn func(*JobInfo)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.jobs) {
		return
	}
	fn(l.jobs[index])
	l.jobs[index].UpdatedAt = time.Now()
}

func (l *JobLog) setState(index int, state JobState, err error) {
	l.update(index, func(j *JobInfo) {
		j.State = state
		if err != nil {
			j.Error = err.Error()
		}
	})
}

// All returns a copy of every job
func (l *JobLog) All() []JobInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]JobInfo, len(l.jobs))
	for i, j := range l.jobs {
		out[i] = *j
	}
	return out
}

// Get returns the job at index
func (l *JobLog) Get(index int) (JobInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.jobs) {
		return JobInfo{}, fmt.Errorf("%w: %d", ErrNoSuchJob, index)
	}
	return *l.jobs[index], nil
}
