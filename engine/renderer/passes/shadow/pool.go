package shadow

// pool is a grow-only set of render targets capped at a fixed capacity.
// Targets are never destroyed before the pool itself.
type pool[T any] struct {
	capacity int
	items    []T
	create   func(index int) (T, error)
	destroy  func(T)
}

// ensure grows the pool to hold min(n, capacity) targets and returns how many are available.
func (p *pool[T]) ensure(n int) (int, error) {
	n = min(n, p.capacity)
	for len(p.items) < n {
		item, err := p.create(len(p.items))
		if err != nil {
			return len(p.items), err
		}
		p.items = append(p.items, item)
	}
	return n, nil
}

func (p *pool[T]) len() int {
	return len(p.items)
}

func (p *pool[T]) release() {
	for _, it := range p.items {
		p.destroy(it)
	}
	p.items = nil
}

// assignShadows gives the first capacity casting lights a shadow index; the rest get -1.
func assignShadows(casts []bool, capacity int) ([]int32, int) {
	out := make([]int32, len(casts))
	next := 0
	for i, c := range casts {
		out[i] = -1
		if c && next < capacity {
			out[i] = int32(next)
			next++
		}
	}
	return out, next
}
