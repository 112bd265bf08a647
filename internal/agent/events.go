package agent

import (
	"sync"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// defaultEventBuffer absorbs bursts (token deltas, concurrent tool_end
// events) without stalling the loop when the consumer keeps up.
const defaultEventBuffer = 256

// Emitter is the single writer of one task's event stream. The loop and the
// executor both emit through it; the mutex serializes their sends so the
// stream stays ordered and a terminal event is followed only by channel
// close. Emit after close is a no-op, which lets in-flight tool goroutines
// finish quietly after cancellation.
type Emitter struct {
	taskID string

	mu     sync.Mutex
	ch     chan models.Event
	turn   int
	closed bool
}

// NewEmitter creates an emitter for one task. buffer <= 0 picks the default.
func NewEmitter(taskID string, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Emitter{
		taskID: taskID,
		ch:     make(chan models.Event, buffer),
	}
}

// Events returns the receive side of the stream. It is closed after the
// terminal event.
func (e *Emitter) Events() <-chan models.Event {
	return e.ch
}

// base builds an event with the common fields populated. Callers must hold
// e.mu.
func (e *Emitter) base(kind models.EventKind) models.Event {
	return models.Event{
		Kind:   kind,
		TaskID: e.taskID,
		Turn:   e.turn,
		Time:   time.Now().UTC(),
	}
}

// send delivers one event. The channel send happens under the mutex so a
// concurrent close cannot slip between the closed check and the send.
func (e *Emitter) send(build func() models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ch <- build()
}

// closeWith delivers the terminal event and closes the stream. Later calls
// are no-ops, so the task emits exactly one terminal event.
func (e *Emitter) closeWith(build func() models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ch <- build()
	e.closed = true
	close(e.ch)
}

// TaskStart emits task_start.
func (e *Emitter) TaskStart() {
	e.send(func() models.Event {
		return e.base(models.EventTaskStart)
	})
}

// TurnStart emits turn_start and advances the stamped turn index.
func (e *Emitter) TurnStart(turn int) {
	e.send(func() models.Event {
		e.turn = turn
		return e.base(models.EventTurnStart)
	})
}

// Token emits one streamed text delta.
func (e *Emitter) Token(text string) {
	e.send(func() models.Event {
		ev := e.base(models.EventToken)
		ev.Text = text
		return ev
	})
}

// ToolCalls emits the full set of calls the model requested this turn.
func (e *Emitter) ToolCalls(calls []models.ToolCall) {
	e.send(func() models.Event {
		ev := e.base(models.EventToolCalls)
		ev.Calls = calls
		return ev
	})
}

// ToolStart emits tool_start for a call that is about to execute. Denied
// calls never produce this event.
func (e *Emitter) ToolStart(call models.ToolCall) {
	e.send(func() models.Event {
		ev := e.base(models.EventToolStart)
		c := call
		ev.Call = &c
		return ev
	})
}

// ToolEnd emits tool_end with the call's result.
func (e *Emitter) ToolEnd(call models.ToolCall, result models.ToolResult) {
	e.send(func() models.Event {
		ev := e.base(models.EventToolEnd)
		c := call
		r := result
		ev.Call = &c
		ev.Result = &r
		return ev
	})
}

// ToolResults emits the folded result set for the turn, denied calls
// included.
func (e *Emitter) ToolResults(results []models.ToolResult) {
	e.send(func() models.Event {
		ev := e.base(models.EventToolResults)
		ev.Results = results
		return ev
	})
}

// TurnEnd emits turn_end with the turn's token usage.
func (e *Emitter) TurnEnd(usage models.Usage) {
	e.send(func() models.Event {
		ev := e.base(models.EventTurnEnd)
		u := usage
		ev.Usage = &u
		return ev
	})
}

// Complete terminates the stream with task_complete and the final text.
func (e *Emitter) Complete(finalText string) {
	e.closeWith(func() models.Event {
		ev := e.base(models.EventTaskComplete)
		ev.Status = models.TaskCompleted
		ev.Text = finalText
		return ev
	})
}

// Fail terminates the stream with task_error.
func (e *Emitter) Fail(err error) {
	e.closeWith(func() models.Event {
		ev := e.base(models.EventTaskError)
		ev.Status = models.TaskErrored
		if err != nil {
			ev.Err = err.Error()
		}
		return ev
	})
}

// Cancelled terminates the stream with task_cancelled.
func (e *Emitter) Cancelled() {
	e.closeWith(func() models.Event {
		ev := e.base(models.EventTaskCancelled)
		ev.Status = models.TaskCancelled
		return ev
	})
}
