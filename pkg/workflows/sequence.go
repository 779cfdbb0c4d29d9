package workflows

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Step is one position in an ordered workflow
type Step struct {
	Key   uuid.UUID
	Order int
}

// Sequence navigates an ordered list of steps by position
type Sequence struct {
	steps []Step
	index map[uuid.UUID]int
}

// NewSequence sorts steps by order and rejects duplicate keys or orders
func NewSequence(steps []Step) (*Sequence, error) {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	index := make(map[uuid.UUID]int, len(sorted))
	for i, step := range sorted {
		if _, dup := index[step.Key]; dup {
			return nil, fmt.Errorf("duplicate step %s", step.Key)
		}
		if i > 0 && sorted[i-1].Order == step.Order {
			return nil, fmt.Errorf("duplicate order %d", step.Order)
		}
		index[step.Key] = i
	}

	return &Sequence{steps: sorted, index: index}, nil
}

// Len returns the number of steps
func (s *Sequence) Len() int {
	return len(s.steps)
}

// Steps returns the steps in ascending order
func (s *Sequence) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// First returns the lowest-ordered step
func (s *Sequence) First() (Step, bool) {
	if len(s.steps) == 0 {
		return Step{}, false
	}
	return s.steps[0], true
}

// Last returns the highest-ordered step
func (s *Sequence) Last() (Step, bool) {
	if len(s.steps) == 0 {
		return Step{}, false
	}
	return s.steps[len(s.steps)-1], true
}

// Position returns the step for key
func (s *Sequence) Position(key uuid.UUID) (Step, bool) {
	i, ok := s.index[key]
	if !ok {
		return Step{}, false
	}
	return s.steps[i], true
}

// Next returns the step with the next-greater order after key
func (s *Sequence) Next(key uuid.UUID) (Step, bool) {
	i, ok := s.index[key]
	if !ok || i+1 >= len(s.steps) {
		return Step{}, false
	}
	return s.steps[i+1], true
}

// Previous returns the step with the next-lesser order before key
func (s *Sequence) Previous(key uuid.UUID) (Step, bool) {
	i, ok := s.index[key]
	if !ok || i == 0 {
		return Step{}, false
	}
	return s.steps[i-1], true
}

// Progress returns floor(order / len * 100) for key, or 0 when key is not a member
func (s *Sequence) Progress(key uuid.UUID) int {
	step, ok := s.Position(key)
	if !ok || len(s.steps) == 0 {
		return 0
	}
	return step.Order * 100 / len(s.steps)
}

// Contiguous reports whether orders run 1..N without gaps
func (s *Sequence) Contiguous() bool {
	for i, step := range s.steps {
		if step.Order != i+1 {
			return false
		}
	}
	return true
}

// Renumber returns the keys with contiguous orders 1..N in their current order
func Renumber(keys []uuid.UUID) []Step {
	steps := make([]Step, len(keys))
	for i, key := range keys {
		steps[i] = Step{Key: key, Order: i + 1}
	}
	return steps
}

// InsertAt returns keys with key inserted at 1-based position; positions outside 1..N+1 append
func InsertAt(keys []uuid.UUID, key uuid.UUID, position int) []uuid.UUID {
	if position < 1 || position > len(keys)+1 {
		position = len(keys) + 1
	}
	out := make([]uuid.UUID, 0, len(keys)+1)
	out = append(out, keys[:position-1]...)
	out = append(out, key)
	return append(out, keys[position-1:]...)
}

// Remove returns keys without key
func Remove(keys []uuid.UUID, key uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// IsPermutation reports whether candidate contains exactly the keys of current
func IsPermutation(current, candidate []uuid.UUID) bool {
	if len(current) != len(candidate) {
		return false
	}
	seen := make(map[uuid.UUID]int, len(current))
	for _, k := range current {
		seen[k]++
	}
	for _, k := range candidate {
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
