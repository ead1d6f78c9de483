package protocol

// Ring 按 Tick 索引的定长环形缓冲，超出容量的旧 Tick 被覆盖
type Ring[T any] struct {
	slots []ringSlot[T]
	n     int
}

type ringSlot[T any] struct {
	tick uint64
	ok   bool
	val  T
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{slots: make([]ringSlot[T], capacity)}
}

func (r *Ring[T]) Put(tick uint64, v T) {
	s := &r.slots[tick%uint64(len(r.slots))]
	if !s.ok {
		r.n++
	}
	*s = ringSlot[T]{tick: tick, ok: true, val: v}
}

func (r *Ring[T]) Get(tick uint64) (T, bool) {
	s := r.slots[tick%uint64(len(r.slots))]
	if !s.ok || s.tick != tick {
		var zero T
		return zero, false
	}
	return s.val, true
}

// Len 已占用的槽位数
func (r *Ring[T]) Len() int { return r.n }

func (r *Ring[T]) Cap() int { return len(r.slots) }
