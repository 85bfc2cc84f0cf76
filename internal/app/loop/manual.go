package loop

// Manual is an Executor driven by the caller. Go runs jobs inline so tests
// stay deterministic.
type Manual struct {
	queue  []func()
	closed bool
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Post(fn func()) bool {
	if m.closed {
		return false
	}
	m.queue = append(m.queue, fn)
	return true
}

func (m *Manual) Go(fn func()) { fn() }

// Drain runs queued work, including work queued while draining, and
// returns how many closures ran.
func (m *Manual) Drain() int {
	n := 0
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
		n++
	}
	return n
}

func (m *Manual) Pending() int { return len(m.queue) }

func (m *Manual) Close() { m.closed = true }
