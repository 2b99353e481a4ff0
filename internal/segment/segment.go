// Package segment splits a job buffer into physical print jobs on an
// end-of-document marker.
package segment

import (
	"bytes"
	"errors"
)

var (
	ErrInvalidCount = errors.New("segment: documents per spool must be at least 1")
	ErrEmptyMarker  = errors.New("segment: empty end-of-document marker")
)

// Marker is an end-of-document pattern and the number of documents batched
// into one physical job.
type Marker struct {
	Pattern  []byte
	PerSpool int
}

// Enabled reports whether a pattern is set
func (m Marker) Enabled() bool {
	return len(m.Pattern) > 0
}

// Split applies m to data. A disabled marker yields data as a single job.
func (m Marker) Split(data []byte) ([][]byte, error) {
	if !m.Enabled() {
		if len(data) == 0 {
			return nil, nil
		}
		return [][]byte{data}, nil
	}
	n := m.PerSpool
	if n == 0 {
		n = 1
	}
	return Split(data, m.Pattern, n)
}

// Split cuts data after every nth occurrence of marker. The marker stays at
// the end of the job it closes. Bytes after the last closing marker are
// attached to the final job, so k >= 1 markers always yield ceil(k/n) jobs.
// Data without any marker is a single job; empty data yields no jobs.
// The returned slices alias data.
func Split(data, marker []byte, n int) ([][]byte, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}
	if len(marker) == 0 {
		return nil, ErrEmptyMarker
	}
	if len(data) == 0 {
		return nil, nil
	}

	var jobs [][]byte
	start, lastStart, pos, seen := 0, 0, 0, 0

	for {
		idx := bytes.Index(data[pos:], marker)
		if idx < 0 {
			break
		}
		pos += idx + len(marker)
		seen++
		if seen%n == 0 {
			jobs = append(jobs, data[start:pos])
			lastStart = start
			start = pos
		}
	}

	if start < len(data) {
		if len(jobs) > 0 && seen%n == 0 {
			jobs[len(jobs)-1] = data[lastStart:]
		} else {
			jobs = append(jobs, data[start:])
		}
	}

	return jobs, nil
}

// Count returns the number of non-overlapping marker occurrences in data
func Count(data, marker []byte) int {
	if len(marker) == 0 {
		return 0
	}
	return bytes.Count(data, marker)
}
