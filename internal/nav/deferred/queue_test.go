package deferred

import (
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
)

func TestDrainRunsOnceAndIsolatesFailures(t *testing.T) {
	q := New(log.New(io.Discard))
	var order []string
	q.Do("a", func() { order = append(order, "a") })
	q.Enqueue("b", func() error { return errors.New("boom") })
	q.Do("c", func() { panic("kaboom") })
	q.Do("d", func() {
		order = append(order, "d")
		q.Do("e", func() { order = append(order, "e") })
	})

	if len(order) != 0 {
		t.Fatalf("ran before drain: %v", order)
	}
	q.Drain()
	if len(order) != 2 || order[0] != "a" || order[1] != "d" {
		t.Fatalf("order after first drain=%v", order)
	}
	ran, failed := q.Stats()
	if ran != 4 || failed != 2 {
		t.Fatalf("stats ran=%d failed=%d", ran, failed)
	}
	if q.Len() != 1 {
		t.Fatalf("command queued during drain should wait, len=%d", q.Len())
	}
	q.Drain()
	if len(order) != 3 || order[2] != "e" {
		t.Fatalf("order after second drain=%v", order)
	}
}
