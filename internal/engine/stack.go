package engine

import "github.com/roach88/playbookd/internal/playbook"

// workItem is one pending step of a run.
//
// Nodes are referenced by index into the run's Definition. next is -1 only
// for a step that cannot be resolved (a link to a missing node); such items
// carry a fault and the id they were addressed by.
type workItem struct {
	prev, next int
	stepID     string

	prevBundle *playbook.Bundle
	bundle     playbook.Bundle
	external   bool

	fault error
}

// workStack is the LIFO arena of pending steps for a single run.
//
// Not safe for concurrent use: each Execute call owns its stack.
type workStack struct {
	items []workItem
}

func newWorkStack() *workStack {
	return &workStack{items: make([]workItem, 0, 16)}
}

// push adds items so that the first one is popped first.
func (s *workStack) push(items ...workItem) {
	for i := len(items) - 1; i >= 0; i-- {
		s.items = append(s.items, items[i])
	}
}

// pop removes and returns the top item.
func (s *workStack) pop() (workItem, bool) {
	if len(s.items) == 0 {
		return workItem{}, false
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top, true
}

// Len returns the number of pending items.
func (s *workStack) Len() int {
	return len(s.items)
}
