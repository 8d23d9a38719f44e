package dag

import "sync"

// Graph holds the action dependency edges of a pipeline. An edge from A to B
// means B reads something A produces. Safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

type node struct {
	id         string
	upstream   map[string]*node
	downstream map[string]*node
}
