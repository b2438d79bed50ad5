package scheduler

import (
	"time"

	"pifan/internal/task/job"
)

type registration struct {
	name   string
	sched  Schedule
	work   job.Func
	runner *job.Runner

	registered time.Time
	next       time.Time
	prev       time.Time
	seq        uint64
	index      int // position in regHeap, -1 when not queued

	fired   uint64
	skipped uint64
	dropped uint64
}

// regHeap orders registrations by (next, seq).
type regHeap []*registration

func (h regHeap) Len() int { return len(h) }

func (h regHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].seq < h[j].seq
	}
	return h[i].next.Before(h[j].next)
}

func (h regHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *regHeap) Push(x any) {
	r := x.(*registration)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *regHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

func (h regHeap) peek() *registration {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
