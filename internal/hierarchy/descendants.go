package hierarchy

import "context"

// ChildLister returns the ids of the direct children of any of parentIDs,
// restricted to ownerID.
type ChildLister interface {
	ChildIDs(ctx context.Context, ownerID int64, parentIDs []int64) ([]int64, error)
}

// Descendants returns every strict descendant of rootID, level by level.
// Each level is a fresh query against the store, so the walk has no depth
// limit and uses no recursion.
func Descendants(ctx context.Context, l ChildLister, ownerID, rootID int64) ([]int64, error) {
	seen := map[int64]struct{}{rootID: {}}
	var out []int64
	frontier := []int64{rootID}
	for len(frontier) > 0 {
		children, err := l.ChildIDs(ctx, ownerID, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]int64, 0, len(children))
		for _, id := range children {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			next = append(next, id)
		}
		frontier = next
	}
	return out, nil
}
