package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

// Lifecycle states of a batch. A batch starts submitted, may spend any number
// of passes in progress, and ends in exactly one terminal state.
const (
	LifecycleSubmitted   = "submitted"
	LifecycleInProgress  = "in_progress"
	LifecycleFinished    = "finished"
	LifecycleNeedsReview = "needs_review"
	LifecycleStalled     = "stalled"
)

const (
	eventProgress = "progress"
	eventFinish   = "finish"
	eventReview   = "review"
	eventStall    = "stall"
)

var ErrIllegalTransition = errors.New("illegal lifecycle transition")

var open = []string{LifecycleSubmitted, LifecycleInProgress}

// Lifecycle guards the transitions one pass may make.
type Lifecycle struct {
	fsm *fsm.FSM
}

// NewLifecycle places the batch where msg says it is: submitted before its
// first pass, in progress afterwards.
func NewLifecycle(msg model.StatusMessage) *Lifecycle {
	initial := LifecycleSubmitted
	if msg.Attempt > 0 {
		initial = LifecycleInProgress
	}
	return newLifecycle(initial)
}

// ResumeLifecycle rebuilds a lifecycle at a recorded state.
func ResumeLifecycle(state string) *Lifecycle {
	return newLifecycle(state)
}

func newLifecycle(initial string) *Lifecycle {
	return &Lifecycle{
		fsm: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: eventProgress, Src: open, Dst: LifecycleInProgress},
				{Name: eventFinish, Src: open, Dst: LifecycleFinished},
				{Name: eventReview, Src: open, Dst: LifecycleNeedsReview},
				{Name: eventStall, Src: open, Dst: LifecycleStalled},
			},
			fsm.Callbacks{},
		),
	}
}

func (l *Lifecycle) Current() string {
	return l.fsm.Current()
}

// Apply moves the lifecycle to the state matching a classification. Staying
// in progress is allowed; leaving a terminal state is not.
func (l *Lifecycle) Apply(ctx context.Context, s State) error {
	event := eventFor(s)
	if event == "" {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, s)
	}

	err := l.fsm.Event(ctx, event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%w: %s from %s: %v", ErrIllegalTransition, event, l.fsm.Current(), err)
}

func eventFor(s State) string {
	switch s {
	case InProgress:
		return eventProgress
	case Finished:
		return eventFinish
	case Unclassified:
		return eventReview
	case Stalled:
		return eventStall
	}
	return ""
}

// State maps the lifecycle position back to a classification state. Open
// positions report InProgress.
func (l *Lifecycle) State() State {
	switch l.fsm.Current() {
	case LifecycleFinished:
		return Finished
	case LifecycleNeedsReview:
		return Unclassified
	case LifecycleStalled:
		return Stalled
	}
	return InProgress
}

// LedgerState is what the terminal ledger records for a state.
func LedgerState(s State) string {
	switch s {
	case Finished:
		return LifecycleFinished
	case Unclassified:
		return LifecycleNeedsReview
	case Stalled:
		return LifecycleStalled
	}
	return LifecycleInProgress
}
