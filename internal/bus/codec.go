package bus

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/frameorchestrator/core/internal/models"
)

// traceContextJSON mirrors the wire shape in spec.md §6.1:
// `{"trace_id":"...","span_id":"...","trace_flags":"..."}`.
type traceContextJSON struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
	Flags   string `json:"trace_flags"`
}

// DecodeFrame turns a bus hash entry into a FrameRecord, per spec.md §6.1.
// Malformed entries (missing frame_id) return models.ErrValidation so the
// caller can ACK-and-count them as malformed_frames_total rather than
// retrying forever.
func DecodeFrame(fields map[string]string) (models.FrameRecord, error) {
	frameID := fields["frame_id"]
	if frameID == "" {
		return models.FrameRecord{}, models.ErrValidation
	}
	rec := models.FrameRecord{
		FrameID:  frameID,
		CameraID: fields["camera_id"],
		Format:   fields["format"],
	}
	if ts := fields["timestamp"]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.Timestamp = parsed
		}
	}
	if v, err := strconv.ParseInt(fields["size_bytes"], 10, 64); err == nil {
		rec.SizeBytes = v
	}
	if v, err := strconv.Atoi(fields["width"]); err == nil {
		rec.Width = v
	}
	if v, err := strconv.Atoi(fields["height"]); err == nil {
		rec.Height = v
	}
	if v, err := strconv.Atoi(fields["priority"]); err == nil {
		rec.Priority = v
	}
	if raw := fields["metadata"]; raw != "" {
		var meta map[string]string
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			rec.Metadata = meta
		}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	rec.Trace = decodeTrace(fields)
	return rec, nil
}

func decodeTrace(fields map[string]string) models.TraceContext {
	if raw := fields["trace_context"]; raw != "" {
		var tc traceContextJSON
		if err := json.Unmarshal([]byte(raw), &tc); err == nil && tc.TraceID != "" {
			return models.TraceContext{TraceID: tc.TraceID, SpanID: tc.SpanID, Flags: tc.Flags}
		}
	}
	if tp := fields["traceparent"]; tp != "" {
		if tc, ok := ParseTraceparent(tp); ok {
			return tc
		}
	}
	return models.TraceContext{}
}

// EncodeFrame serializes a FrameRecord back into bus hash fields,
// preserving any passthrough image_data the caller supplies separately
// (spec.md §6.1: "image_data... is passed through untouched").
func EncodeFrame(rec models.FrameRecord, traceparent string, extra map[string]string) map[string]string {
	metaJSON, _ := json.Marshal(rec.Metadata)
	out := map[string]string{
		"frame_id":   rec.FrameID,
		"camera_id":  rec.CameraID,
		"timestamp":  rec.Timestamp.Format(time.RFC3339Nano),
		"size_bytes": strconv.FormatInt(rec.SizeBytes, 10),
		"width":      strconv.Itoa(rec.Width),
		"height":     strconv.Itoa(rec.Height),
		"format":     rec.Format,
		"priority":   strconv.Itoa(rec.Priority),
		"metadata":   string(metaJSON),
	}
	if traceparent != "" {
		out["traceparent"] = traceparent
	}
	if !rec.EnqueuedAt.IsZero() {
		out["enqueued_at"] = rec.EnqueuedAt.Format(time.RFC3339Nano)
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ParseTraceparent decodes a W3C traceparent header
// ("00-<trace_id>-<span_id>-<flags>") into a TraceContext.
func ParseTraceparent(v string) (models.TraceContext, bool) {
	if len(v) < 55 {
		return models.TraceContext{}, false
	}
	// version(2)-traceid(32)-spanid(16)-flags(2), hyphen separated.
	if v[2] != '-' || v[35] != '-' || v[52] != '-' {
		return models.TraceContext{}, false
	}
	traceID := v[3:35]
	spanID := v[36:52]
	flags := v[53:55]
	if traceID == "00000000000000000000000000000000" || spanID == "0000000000000000" {
		return models.TraceContext{}, false
	}
	return models.TraceContext{TraceID: traceID, SpanID: spanID, Flags: flags}, true
}

// FormatTraceparent encodes a TraceContext as a W3C traceparent header.
func FormatTraceparent(tc models.TraceContext) string {
	flags := tc.Flags
	if flags == "" {
		flags = "01"
	}
	return "00-" + tc.TraceID + "-" + tc.SpanID + "-" + flags
}
