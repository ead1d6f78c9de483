package anticheat

// window 最近 N 次开火的滚动统计
type window struct {
	hit   []bool
	head  []bool
	next  int
	n     int
	hits  int
	heads int
}

func (w *window) push(hit, headshot bool, size int) {
	if size < 1 {
		size = 1
	}
	if w.hit == nil {
		w.hit = make([]bool, size)
		w.head = make([]bool, size)
	}
	if w.n == len(w.hit) {
		if w.hit[w.next] {
			w.hits--
		}
		if w.head[w.next] {
			w.heads--
		}
	} else {
		w.n++
	}
	w.hit[w.next] = hit
	w.head[w.next] = hit && headshot
	if hit {
		w.hits++
	}
	if hit && headshot {
		w.heads++
	}
	w.next = (w.next + 1) % len(w.hit)
}

func (w *window) accuracy() float64 {
	if w.n == 0 {
		return 0
	}
	return float64(w.hits) / float64(w.n)
}
