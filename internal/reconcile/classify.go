// Package reconcile decides, one pass at a time, whether a submitted batch has
// fully landed and acts on that decision.
package reconcile

import (
	"fmt"
	"strings"
)

type State string

const (
	Finished     State = "finished"
	InProgress   State = "in_progress"
	Unclassified State = "unclassified"
	Stalled      State = "stalled"
)

// Terminal reports whether no further pass may change the decision.
func (s State) Terminal() bool {
	return s != InProgress
}

type Classification struct {
	State   State
	Message string
}

const (
	msgFinished     = "The ingestion job has finished!"
	msgInProgress   = "The ingestion job is in progress!"
	msgUnclassified = "More events were written than were sent! Please review."
	msgStalled      = "The ingestion job started a long time and hasn't finished yet! Please take a look.!"
)

// Classify compares the expected event count of a batch with the count
// observed in the store. It is total: a count above the expected one is
// reported as Unclassified rather than dropped.
func Classify(expected, observed int) Classification {
	switch {
	case observed == expected:
		return Classification{State: Finished, Message: msgFinished}
	case observed < expected:
		return Classification{State: InProgress, Message: msgInProgress}
	default:
		return Classification{State: Unclassified, Message: msgUnclassified}
	}
}

func stalled() Classification {
	return Classification{State: Stalled, Message: msgStalled}
}

// Render lays out the notification text posted for a decision.
func Render(ingestionID string, expected, observed int, c Classification) string {
	var b strings.Builder
	b.WriteString("*Ingestion Notification!* \n")
	fmt.Fprintf(&b, "*Message:* %s \n", c.Message)
	fmt.Fprintf(&b, "*Ingestion ID:* %s \n", ingestionID)
	fmt.Fprintf(&b, "*Expected Count of Events:* %d \n", expected)
	fmt.Fprintf(&b, "*Current Count of Events:* %d", observed)
	return b.String()
}
