package work

// priorityQueue is the pending set as a container/heap. Items pop by
// descending priority, then in submission order.
type priorityQueue []*Item

func (q priorityQueue) Len() int      { return len(q) }
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q priorityQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Priority == b.Priority {
		return a.seq < b.seq
	}
	return a.Priority > b.Priority
}

func (q *priorityQueue) Push(x any) { *q = append(*q, x.(*Item)) }

func (q *priorityQueue) Pop() any {
	items := *q
	last := items[len(items)-1]
	items[len(items)-1] = nil
	*q = items[:len(items)-1]
	return last
}
