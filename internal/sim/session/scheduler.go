package session

import "sort"

// deferredTask is a callback armed with an explicit due tick. The stubbed
// wallet completions and any other delayed effects run through this queue
// instead of ambient timers, so replays stay deterministic.
type deferredTask struct {
	due uint64
	seq uint64
	fn  func(tick uint64)
}

type taskQueue struct {
	tasks []deferredTask
	seq   uint64
}

func (q *taskQueue) schedule(now uint64, delayTicks int, fn func(uint64)) {
	if fn == nil {
		return
	}
	if delayTicks < 0 {
		delayTicks = 0
	}
	q.seq++
	q.tasks = append(q.tasks, deferredTask{due: now + uint64(delayTicks), seq: q.seq, fn: fn})
}

// runDue executes every task due at or before now, ordered by (due, seq)
// so equal due ticks keep scheduling order.
func (q *taskQueue) runDue(now uint64) {
	var due []deferredTask
	remaining := q.tasks[:0]
	for _, t := range q.tasks {
		if t.due <= now {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	q.tasks = remaining
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t.fn(now)
	}
}

func (q *taskQueue) pending() int { return len(q.tasks) }
