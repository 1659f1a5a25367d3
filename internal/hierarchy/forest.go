// Package hierarchy turns an owner's flat task list into a forest and walks
// subtrees.
package hierarchy

import "taskforest/internal/models"

// Forest is one owner's task tree, with O(1) lookup by id.
type Forest struct {
	Roots []*models.TaskNode
	byID  map[int64]*models.TaskNode
}

// Build assembles a forest from tasks sorted by creation time ascending.
// Children keep their input order. A task whose parent is missing from the
// set is treated as a root.
func Build(tasks []models.Task) *Forest {
	f := &Forest{
		Roots: make([]*models.TaskNode, 0),
		byID:  make(map[int64]*models.TaskNode, len(tasks)),
	}
	nodes := make([]*models.TaskNode, len(tasks))
	for i := range tasks {
		n := &models.TaskNode{Task: tasks[i], Children: make([]*models.TaskNode, 0)}
		nodes[i] = n
		f.byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID != nil && *n.ParentID != n.ID {
			if parent, ok := f.byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		f.Roots = append(f.Roots, n)
	}
	return f
}

// Node returns the node for id together with its subtree.
func (f *Forest) Node(id int64) (*models.TaskNode, bool) {
	n, ok := f.byID[id]
	return n, ok
}

// Len is the number of tasks in the forest.
func (f *Forest) Len() int {
	return len(f.byID)
}

// Walk visits n and its descendants depth-first in child order. depth is 0
// for n itself.
func Walk(n *models.TaskNode, visit func(node *models.TaskNode, depth int)) {
	type frame struct {
		node  *models.TaskNode
		depth int
	}
	stack := []frame{{n, 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(top.node, top.depth)
		for i := len(top.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{top.node.Children[i], top.depth + 1})
		}
	}
}
