package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// maxLineBytes bounds one NDJSON line; anything larger is treated as a
// malformed message and skipped.
const maxLineBytes = 256 * 1024

// Inbound message type discriminators and outbound event names, one JSON
// object per line in each direction.
const (
	typeQueueTick         = "queue_tick"
	typeMetricsRefresh    = "metrics_refresh"
	typeSelectorsBackfill = "selectors_backfill"

	eventQueueJob          = "queue.job"
	eventMetricsUpdated    = "metrics.updated"
	eventMetricsError      = "metrics.error"
	eventSelectorsBackfill = "selectors.backfill"
	eventSelectorsError    = "selectors.error"
)

type inboundFrame struct {
	Type      string `json:"type"`
	ProjectID int64  `json:"project_id"`
}

type queueJobFrame struct {
	Event         string `json:"event"`
	Status        string `json:"status"`
	JobID         int64  `json:"job_id"`
	URLID         int64  `json:"url_id"`
	ViewportLabel string `json:"viewport_label"`
	Error         string `json:"error,omitempty"`
}

type projectEventFrame struct {
	Event     string `json:"event"`
	ProjectID int64  `json:"project_id"`
	Error     string `json:"error,omitempty"`
}

type backfillEventFrame struct {
	Event     string `json:"event"`
	ProjectID int64  `json:"project_id"`
	Updated   int64  `json:"updated"`
	Error     string `json:"error,omitempty"`
}

// DecodeInbound parses one inbound NDJSON line into its typed message.
func DecodeInbound(line []byte) (Inbound, error) {
	var frame inboundFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("decode inbound message: %w", err)
	}
	switch frame.Type {
	case typeQueueTick:
		return QueueTick{}, nil
	case typeMetricsRefresh:
		if frame.ProjectID <= 0 {
			return nil, fmt.Errorf("metrics_refresh requires project_id")
		}
		return MetricsRefresh{ProjectID: frame.ProjectID}, nil
	case typeSelectorsBackfill:
		if frame.ProjectID <= 0 {
			return nil, fmt.Errorf("selectors_backfill requires project_id")
		}
		return SelectorsBackfill{ProjectID: frame.ProjectID}, nil
	default:
		return nil, fmt.Errorf("unrecognized message type %q", frame.Type)
	}
}

// EncodeOutbound serializes one outbound event to its NDJSON wire shape,
// without the trailing newline.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	switch m := msg.(type) {
	case QueueJob:
		return json.Marshal(queueJobFrame{
			Event:         eventQueueJob,
			Status:        string(m.Status),
			JobID:         m.JobID,
			URLID:         m.URLID,
			ViewportLabel: m.ViewportLabel,
			Error:         m.Error,
		})
	case MetricsUpdated:
		return json.Marshal(projectEventFrame{Event: eventMetricsUpdated, ProjectID: m.ProjectID})
	case MetricsError:
		return json.Marshal(projectEventFrame{Event: eventMetricsError, ProjectID: m.ProjectID, Error: m.Error})
	case SelectorsBackfilled:
		return json.Marshal(backfillEventFrame{Event: eventSelectorsBackfill, ProjectID: m.ProjectID, Updated: m.Updated})
	case SelectorsError:
		return json.Marshal(backfillEventFrame{Event: eventSelectorsError, ProjectID: m.ProjectID, Error: m.Error})
	default:
		return nil, fmt.Errorf("unrecognized outbound message %T", msg)
	}
}

// Codec bridges the typed message channels to NDJSON byte streams at the
// process edge, one JSON object per line in each direction.
type Codec struct {
	logger *slog.Logger
}

// NewCodec constructs a transport codec.
func NewCodec(logger *slog.Logger) *Codec {
	if logger != nil {
		logger = logger.With("component", "worker_codec")
	}
	return &Codec{logger: logger}
}

// ReadLoop decodes inbound lines onto the channel until the reader is
// exhausted or the context is cancelled. Malformed or unrecognized lines
// are skipped, never fatal. The channel is closed on return.
func (c *Codec) ReadLoop(ctx context.Context, r io.Reader, in chan<- Inbound) error {
	defer close(in)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeInbound(line)
		if err != nil {
			if c.logger != nil {
				c.logger.WarnContext(ctx, "skipping malformed inbound line", "error", err)
			}
			continue
		}
		select {
		case in <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// WriteLoop encodes outbound events from the channel as NDJSON lines until
// the channel closes or the context is cancelled.
func (c *Codec) WriteLoop(ctx context.Context, w io.Writer, out <-chan Outbound) error {
	bw := bufio.NewWriter(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-out:
			if !ok {
				return bw.Flush()
			}
			encoded, err := EncodeOutbound(msg)
			if err != nil {
				if c.logger != nil {
					c.logger.WarnContext(ctx, "dropping unencodable outbound event", "error", err)
				}
				continue
			}
			if _, err := bw.Write(append(encoded, '\n')); err != nil {
				return fmt.Errorf("write outbound event: %w", err)
			}
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("flush outbound event: %w", err)
			}
		}
	}
}
