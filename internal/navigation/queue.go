package navigation

import "github.com/annel0/voxel-terrain/internal/terrain"

type node struct {
	idx  terrain.TileIndex
	dist float32
}

// nodeQueue: двоичная куча по расстоянию для container/heap.
// Устаревшие записи не удаляются, а пропускаются при извлечении.
type nodeQueue []node

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].idx < q[j].idx
}

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x any) { *q = append(*q, x.(node)) }

func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
