package network

import (
	"container/heap"
	"math"
)

// WeightFunc returns the traversal cost of a segment, or false when the
// segment may not be used.
type WeightFunc func(*Segment) (float64, bool)

type queueItem struct {
	id   string
	dist float64
}

// pathQueue is a min-heap on distance. Equal distances pop in location ID
// order so searches are reproducible.
type pathQueue []*queueItem

func (q pathQueue) Len() int { return len(q) }
func (q pathQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].id < q[j].id
}
func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)   { *q = append(*q, x.(*queueItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// ShortestPath runs Dijkstra from fromID to toID under weight and returns the
// segment sequence and its total weight. ok is false when toID cannot be
// reached. Stale heap entries are skipped rather than decreased in place.
func (s *Snapshot) ShortestPath(fromID, toID string, weight WeightFunc) (path []*Segment, total float64, ok bool) {
	if fromID == toID {
		return nil, 0, false
	}
	dist := map[string]float64{fromID: 0}
	prev := make(map[string]*Segment)
	done := make(map[string]bool)

	pq := &pathQueue{}
	heap.Init(pq)
	heap.Push(pq, &queueItem{id: fromID})

	for pq.Len() > 0 {
		it := heap.Pop(pq).(*queueItem)
		if done[it.id] {
			continue
		}
		done[it.id] = true
		if it.id == toID {
			break
		}
		for _, seg := range s.outgoing[it.id] {
			if done[seg.To] {
				continue
			}
			w, usable := weight(seg)
			if !usable || w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				continue
			}
			nd := it.dist + w
			if cur, seen := dist[seg.To]; !seen || nd < cur {
				dist[seg.To] = nd
				prev[seg.To] = seg
				heap.Push(pq, &queueItem{id: seg.To, dist: nd})
			}
		}
	}
	if !done[toID] {
		return nil, 0, false
	}
	for at := toID; at != fromID; {
		seg := prev[at]
		path = append(path, seg)
		at = seg.From
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, dist[toID], true
}

// Reachable reports whether toID can be reached from fromID using only
// segments accepted by allow. A nil allow accepts every segment.
func (s *Snapshot) Reachable(fromID, toID string, allow func(*Segment) bool) bool {
	if _, ok := s.locations[fromID]; !ok {
		return false
	}
	if fromID == toID {
		return true
	}
	seen := map[string]bool{fromID: true}
	queue := []string{fromID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, seg := range s.outgoing[cur] {
			if seen[seg.To] || (allow != nil && !allow(seg)) {
				continue
			}
			if seg.To == toID {
				return true
			}
			seen[seg.To] = true
			queue = append(queue, seg.To)
		}
	}
	return false
}
