package learning

import (
	"smart-weigher/internal/types"
)

// Item 是优先级队列中的元素，包装了 LearningRun
type Item struct {
	Run   *types.LearningRun // 实际的学习任务数据
	index int                // 元素在堆中的索引
}

// PriorityQueue 实现了 heap.Interface 接口，是一个基于最小堆的优先级队列
type PriorityQueue []*Item

func (pq PriorityQueue) Len() int { return len(pq) }

// Less 定义了元素的排序规则
// 注意：我们要实现最大堆（高优先级先出），所以这里使用 >
func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].Run.Priority > pq[j].Run.Priority
}

// Swap 交换两个元素的位置
func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push 向队列中添加元素
func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*Item)
	item.index = n
	*pq = append(*pq, item)
}

// Pop 从队列中移除并返回优先级最高的元素
func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // 避免内存泄漏
	item.index = -1
	*pq = old[0 : n-1]
	return item
}
