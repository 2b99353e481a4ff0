package spool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/spool-engine/pkg/jobspec"
)

func TestApplyRawDocument(t *testing.T) {
	s, d := newTestSession(t)

	doc, err := jobspec.Parse([]byte(`{
		"version": "1.0",
		"name": "labels",
		"printer": "zebra",
		"end_of_document": "P1\n",
		"documents_per_spool": 2,
		"elements": [
			{"type": "text", "data": "A\nP1\nB\nP1\n"},
			{"type": "hex", "data": "43 0a"},
			{"type": "base64", "data": "UDEK"}
		]
	}`))
	require.NoError(t, err)

	op, err := s.Apply(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, wait(t, op))

	jobs := d.all()
	require.Len(t, jobs, 2)
	assert.Equal(t, "A\nP1\nB\nP1\n", string(jobs[0].doc.Data))
	assert.Equal(t, "C\nP1\n", string(jobs[1].doc.Data))
	assert.Equal(t, "Zebra", jobs[0].printer)
	assert.Equal(t, "labels", jobs[0].doc.Title)
}

func TestApplyRenderedToFile(t *testing.T) {
	s, d := newTestSession(t)

	doc := &jobspec.Document{
		Version:  jobspec.Version,
		Paper:    &jobspec.Paper{Width: 4, Height: 6, Units: "in"},
		Elements: []jobspec.Element{{Type: jobspec.TypeQRCode, Data: "spool"}},
		Output:   jobspec.Output{Mode: jobspec.OutputFile, Path: "/tmp/label.ps"},
	}

	op, err := s.Apply(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, wait(t, op))

	jobs := d.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "/tmp/label.ps", jobs[0].target)
	assert.Contains(t, string(jobs[0].doc.Data), "%!PS-Adobe-3.0")
	assert.Nil(t, s.Printer(), "file output does not look up a printer")
}

func TestApplyFailureClearsBuffer(t *testing.T) {
	s, _ := newTestSession(t)

	doc := &jobspec.Document{
		Version:  jobspec.Version,
		Printer:  "zebra",
		Elements: []jobspec.Element{{Type: jobspec.TypeHex, Data: "zz"}},
		Output:   jobspec.Output{Mode: jobspec.OutputRaw},
	}

	_, err := s.Apply(context.Background(), doc)
	assert.Error(t, err)
	assert.True(t, s.buf.Empty())

	doc.Version = "0.9"
	_, err = s.Apply(context.Background(), doc)
	assert.ErrorIs(t, err, jobspec.ErrInvalid)
}
