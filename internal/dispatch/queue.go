package dispatch

import (
	"container/heap"
	"time"
)

type wakeItem struct {
	campaignID string
	at         time.Time
	index      int
}

// wakeQueue is a min-heap of campaign wake-ups ordered by instant.
type wakeQueue []*wakeItem

func (q wakeQueue) Len() int { return len(q) }

func (q wakeQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q wakeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *wakeQueue) Push(x interface{}) {
	item := x.(*wakeItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *wakeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// wakeSchedule holds at most one pending wake-up per campaign.
type wakeSchedule struct {
	queue wakeQueue
	items map[string]*wakeItem
}

func newWakeSchedule() *wakeSchedule {
	return &wakeSchedule{items: make(map[string]*wakeItem)}
}

// set moves or inserts the wake-up of a campaign. An earlier pending wake-up wins unless
// force is set.
func (s *wakeSchedule) set(campaignID string, at time.Time, force bool) {
	if item, ok := s.items[campaignID]; ok {
		if !force && !at.Before(item.at) {
			return
		}
		item.at = at
		heap.Fix(&s.queue, item.index)
		return
	}
	item := &wakeItem{campaignID: campaignID, at: at}
	heap.Push(&s.queue, item)
	s.items[campaignID] = item
}

func (s *wakeSchedule) remove(campaignID string) {
	item, ok := s.items[campaignID]
	if !ok {
		return
	}
	heap.Remove(&s.queue, item.index)
	delete(s.items, campaignID)
}

// popDue removes and returns every campaign due at or before now, earliest first.
func (s *wakeSchedule) popDue(now time.Time) []string {
	var due []string
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		item := heap.Pop(&s.queue).(*wakeItem)
		delete(s.items, item.campaignID)
		due = append(due, item.campaignID)
	}
	return due
}

// next returns the earliest pending wake-up.
func (s *wakeSchedule) next() (time.Time, bool) {
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

func (s *wakeSchedule) has(campaignID string) bool {
	_, ok := s.items[campaignID]
	return ok
}

// when returns the pending wake-up of a campaign.
func (s *wakeSchedule) when(campaignID string) (time.Time, bool) {
	item, ok := s.items[campaignID]
	if !ok {
		return time.Time{}, false
	}
	return item.at, true
}
