// Package schema publishes JSON Schemas for the messages the pipeline puts on
// the bus.
package schema

import (
	"errors"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

var ErrUnknownSchema = errors.New("unknown schema")

var subjects = map[string]any{
	"event":  model.Event{},
	"record": model.Record{},
	"status": model.StatusMessage{},
}

// For returns the schema of the named message.
func For(name string) (*jsonschema.Schema, error) {
	subject, ok := subjects[name]
	if !ok {
		return nil, ErrUnknownSchema
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		// omitempty fields are optional, everything else is required
		RequiredFromJSONSchemaTags: false,
	}
	return r.Reflect(subject), nil
}

func Names() []string {
	names := make([]string, 0, len(subjects))
	for name := range subjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
