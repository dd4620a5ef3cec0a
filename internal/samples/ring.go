package samples

import "github.com/cyb3rgh05t/komandorr/internal/domain"

// ring is a fixed-capacity buffer that overwrites its oldest sample.
type ring struct {
	buf   []domain.Sample
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.Sample, capacity)}
}

func (r *ring) push(s domain.Sample) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.n }

// tail returns up to limit of the newest samples, oldest first.
func (r *ring) tail(limit int) []domain.Sample {
	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]domain.Sample, limit)
	first := r.n - limit
	for i := 0; i < limit; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}

func (r *ring) reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
