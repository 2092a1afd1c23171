package pathfinding

// Constraint reports whether an edge may be part of a path.
type Constraint[E any] func(edge E) bool

// Any admits every edge.
func Any[E any](E) bool { return true }

// All returns a constraint admitting an edge only if every non-nil constraint
// admits it.
func All[E any](constraints ...Constraint[E]) Constraint[E] {
	var active []Constraint[E]
	for _, c := range constraints {
		if c != nil {
			active = append(active, c)
		}
	}
	return func(edge E) bool {
		for _, c := range active {
			if !c(edge) {
				return false
			}
		}
		return true
	}
}

// OnKey lifts a constraint over graph keys to one over edges of g.
func OnKey[E any, K comparable](g Graph[E, K], c Constraint[K]) Constraint[E] {
	if c == nil {
		return nil
	}
	return func(edge E) bool { return c(g.Key(edge)) }
}
