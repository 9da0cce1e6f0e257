// Package formatter turns raw trip input into events bound to one ingestion
// session. A Session is a value: it is created once per batch and never
// changes, so every event and status message derived from it shares the same
// ingestion id.
package formatter

import (
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

type Session struct {
	openedAt    time.Time
	ingestionID string
}

// NewSession opens a session with a fresh random ingestion id.
func NewSession() Session {
	return Session{
		ingestionID: uuid.NewString(),
		openedAt:    time.Now().UTC(),
	}
}

// SessionFromID rebuilds a session for an id issued elsewhere (tests, replays).
func SessionFromID(ingestionID string, openedAt time.Time) Session {
	return Session{ingestionID: ingestionID, openedAt: openedAt}
}

func (s Session) IngestionID() string {
	return s.ingestionID
}

func (s Session) OpenedAt() time.Time {
	return s.openedAt
}

// Event binds a record to the session.
func (s Session) Event(r model.Record) model.Event {
	return model.Event{
		Region:           r.Region,
		OriginCoord:      r.OriginCoord,
		DestinationCoord: r.DestinationCoord,
		Datetime:         r.Datetime,
		Datasource:       r.Datasource,
		IngestionID:      s.ingestionID,
	}
}

// FromRecords lazily yields one event per record in input order. The input is
// pulled one record at a time, so unbounded sources are fine.
func (s Session) FromRecords(records iter.Seq[model.Record]) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		for r := range records {
			if !yield(s.Event(r)) {
				return
			}
		}
	}
}

// Status summarises the session as the initial status message. count is the
// number of events the invoker submitted.
func (s Session) Status(count int) model.StatusMessage {
	return model.StatusMessage{
		IngestionID: s.ingestionID,
		Count:       count,
		SubmittedAt: s.openedAt,
	}
}
