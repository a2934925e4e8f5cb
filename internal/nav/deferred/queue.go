// Package deferred queues side effects on game state that navigators request during a tick.
// The host drains the queue once per tick after every navigator has run, so a request is
// never observed before the following tick.
package deferred

import (
	"fmt"

	"github.com/charmbracelet/log"
)

type command struct {
	name string
	fn   func() error
}

// Queue is a fire-and-forget command queue. It is not safe for concurrent use; it belongs
// to the simulation goroutine.
type Queue struct {
	log     *log.Logger
	pending []command

	failed uint64
	ran    uint64
}

func New(logger *log.Logger) *Queue {
	return &Queue{log: logger}
}

// Enqueue schedules fn to run at the next drain.
func (q *Queue) Enqueue(name string, fn func() error) {
	q.pending = append(q.pending, command{name: name, fn: fn})
}

// Do schedules a command that cannot fail.
func (q *Queue) Do(name string, fn func()) {
	q.Enqueue(name, func() error { fn(); return nil })
}

func (q *Queue) Len() int { return len(q.pending) }

// Drain runs every command queued before the call. Commands queued while draining wait
// for the next drain. Errors and panics are logged and dropped.
func (q *Queue) Drain() {
	if len(q.pending) == 0 {
		return
	}
	batch := q.pending
	q.pending = nil
	for _, c := range batch {
		if err := q.run(c); err != nil {
			q.failed++
			if q.log != nil {
				q.log.Warn("deferred command failed", "command", c.name, "err", err)
			}
		}
		q.ran++
	}
}

func (q *Queue) run(c command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.fn()
}

// Stats reports how many commands ran and how many of those failed.
func (q *Queue) Stats() (ran, failed uint64) { return q.ran, q.failed }
