package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

// StatusValues flattens a status message into stream fields.
func StatusValues(m model.StatusMessage) map[string]any {
	values := map[string]any{
		"ingestion_id": m.IngestionID,
		"count":        m.Count,
		"attempt":      m.Attempt,
		"submitted_at": m.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.CurrentCount != nil {
		values["current_count"] = *m.CurrentCount
	}
	if m.TraceID != "" {
		values["trace_id"] = m.TraceID
	}
	return values
}

// ParseStatus reads a status message back from stream fields.
func ParseStatus(values map[string]any) (model.StatusMessage, error) {
	ingestionID, err := parseString(values, "ingestion_id")
	if err != nil {
		return model.StatusMessage{}, err
	}
	if ingestionID == "" {
		return model.StatusMessage{}, fmt.Errorf("empty ingestion_id")
	}
	count, err := parseInt(values, "count")
	if err != nil {
		return model.StatusMessage{}, err
	}
	if count < 0 {
		return model.StatusMessage{}, fmt.Errorf("negative count %d", count)
	}
	attempt, err := parseOptionalInt(values, "attempt")
	if err != nil {
		return model.StatusMessage{}, err
	}
	current, err := parseOptionalIntPtr(values, "current_count")
	if err != nil {
		return model.StatusMessage{}, err
	}
	traceID, err := parseOptionalString(values, "trace_id")
	if err != nil {
		return model.StatusMessage{}, err
	}

	var submittedAt time.Time
	if raw, _ := parseOptionalString(values, "submitted_at"); raw != "" {
		submittedAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return model.StatusMessage{}, fmt.Errorf("parsing submitted_at: %w", err)
		}
	}

	return model.StatusMessage{
		IngestionID:  ingestionID,
		Count:        count,
		CurrentCount: current,
		Attempt:      attempt,
		SubmittedAt:  submittedAt,
		TraceID:      traceID,
	}, nil
}

func parseInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	if _, ok := values[key]; !ok {
		return 0, nil
	}
	return parseInt(values, key)
}

func parseOptionalIntPtr(values map[string]any, key string) (*int, error) {
	if _, ok := values[key]; !ok {
		return nil, nil
	}
	num, err := parseInt(values, key)
	if err != nil {
		return nil, err
	}
	return &num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
