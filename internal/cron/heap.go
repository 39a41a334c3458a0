package cron

import (
	"time"

	"github.com/robfig/cron/v3"
)

// entry is a registered task in the scheduler heap.
type entry struct {
	task     Task
	schedule cron.Schedule
	next     time.Time
	index    int // position in the heap, -1 when not queued
	removed  bool
}

// entryHeap is a min-heap by next fire time, then task id.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].task.ID < h[j].task.ID
	}
	return h[i].next.Before(h[j].next)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
