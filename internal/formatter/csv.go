package formatter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

const (
	csvFields    = 5
	maxLineBytes = 1 << 20
)

var ErrMalformedRecord = errors.New("malformed record")

// ParseError reports a delimited line that does not carry exactly five fields.
type ParseError struct {
	Line   int // 1-based line number within the input, 0 for a single line
	Fields int
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: expected %d fields, got %d", e.Line, csvFields, e.Fields)
	}
	return fmt.Sprintf("expected %d fields, got %d", csvFields, e.Fields)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedRecord
}

// FromCSV parses one "region,origin_coord,destination_coord,datetime,datasource"
// line.
func (s Session) FromCSV(line string) (model.Event, error) {
	return s.fromCSV(line, 0)
}

func (s Session) fromCSV(line string, lineNo int) (model.Event, error) {
	items := strings.Split(strings.TrimSpace(line), ",")
	if len(items) != csvFields {
		return model.Event{}, &ParseError{Line: lineNo, Fields: len(items)}
	}

	return s.Event(model.Record{
		Region:           items[0],
		OriginCoord:      items[1],
		DestinationCoord: items[2],
		Datetime:         items[3],
		Datasource:       items[4],
	}), nil
}

// ReadCSV lazily yields events from r after skipping the first skip lines.
// Blank lines are tolerated only at the end of the input; one followed by a
// record is malformed. Iteration stops after the first error.
func (s Session) ReadCSV(r io.Reader, skip int) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		lineNo := 0
		firstBlank := 0
		for scanner.Scan() {
			lineNo++
			if lineNo <= skip {
				continue
			}
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				if firstBlank == 0 {
					firstBlank = lineNo
				}
				continue
			}
			if firstBlank > 0 {
				yield(model.Event{}, &ParseError{Line: firstBlank, Fields: 1})
				return
			}
			ev, err := s.fromCSV(line, lineNo)
			if err != nil {
				yield(model.Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Event{}, fmt.Errorf("reading csv: %w", err))
		}
	}
}

// CollectCSV parses all of r up front. Any malformed line fails the whole
// batch, so callers never publish part of a file.
func (s Session) CollectCSV(r io.Reader, skip int) ([]model.Event, error) {
	var events []model.Event
	for ev, err := range s.ReadCSV(r, skip) {
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
