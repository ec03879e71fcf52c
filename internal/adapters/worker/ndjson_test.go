package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesswatch/accesswatch/internal/domain/model"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Inbound
	}{
		{"queue tick", `{"type":"queue_tick"}`, QueueTick{}},
		{"metrics refresh", `{"type":"metrics_refresh","project_id":7}`, MetricsRefresh{ProjectID: 7}},
		{"selectors backfill", `{"type":"selectors_backfill","project_id":3}`, SelectorsBackfill{ProjectID: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInboundRejectsBadLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `queue_tick`},
		{"unknown type", `{"type":"shutdown"}`},
		{"refresh without project", `{"type":"metrics_refresh"}`},
		{"backfill without project", `{"type":"selectors_backfill","project_id":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tt.line))
			require.Error(t, err)
		})
	}
}

func TestEncodeOutboundWireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Outbound
		want string
	}{
		{
			"completed job",
			QueueJob{JobID: 12, URLID: 4, ViewportLabel: "desktop", Status: model.JobStatusCompleted},
			`{"event":"queue.job","status":"completed","job_id":12,"url_id":4,"viewport_label":"desktop"}`,
		},
		{
			"failed job",
			QueueJob{JobID: 13, URLID: 4, ViewportLabel: "mobile", Status: model.JobStatusFailed, Error: "boom"},
			`{"event":"queue.job","status":"failed","job_id":13,"url_id":4,"viewport_label":"mobile","error":"boom"}`,
		},
		{
			"metrics updated",
			MetricsUpdated{ProjectID: 7},
			`{"event":"metrics.updated","project_id":7}`,
		},
		{
			"metrics error",
			MetricsError{ProjectID: 7, Error: "recompute failed"},
			`{"event":"metrics.error","project_id":7,"error":"recompute failed"}`,
		},
		{
			"backfill done",
			SelectorsBackfilled{ProjectID: 3, Updated: 250},
			`{"event":"selectors.backfill","project_id":3,"updated":250}`,
		},
		{
			"backfill error",
			SelectorsError{ProjectID: 3, Error: "db gone"},
			`{"event":"selectors.error","project_id":3,"updated":0,"error":"db gone"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeOutbound(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestReadLoopSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"queue_tick"}`,
		`this is not json`,
		``,
		`{"type":"unknown_thing"}`,
		`{"type":"metrics_refresh","project_id":2}`,
	}, "\n")

	in := make(chan Inbound, 8)
	codec := NewCodec(nil)
	err := codec.ReadLoop(context.Background(), strings.NewReader(input), in)
	require.NoError(t, err)

	var got []Inbound
	for msg := range in {
		got = append(got, msg)
	}
	require.Len(t, got, 2)
	assert.Equal(t, QueueTick{}, got[0])
	assert.Equal(t, MetricsRefresh{ProjectID: 2}, got[1])
}

func TestWriteLoopEmitsOneLinePerEvent(t *testing.T) {
	out := make(chan Outbound, 2)
	out <- MetricsUpdated{ProjectID: 1}
	out <- SelectorsBackfilled{ProjectID: 1, Updated: 9}
	close(out)

	var buf strings.Builder
	codec := NewCodec(nil)
	require.NoError(t, codec.WriteLoop(context.Background(), &buf, out))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)))
	}
	assert.Contains(t, lines[0], `"metrics.updated"`)
	assert.Contains(t, lines[1], `"selectors.backfill"`)
}
