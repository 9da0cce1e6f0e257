package queue

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

// EncodeEvent renders an event as the JSON object carried on the event bus.
// Every value is a string.
func EncodeEvent(ev model.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return b, nil
}

func DecodeEvent(data []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if ev.IngestionID == "" {
		return model.Event{}, fmt.Errorf("decoding event: missing ingestion_id")
	}
	return ev, nil
}
