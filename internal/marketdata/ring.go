package marketdata

import "MarketPulse/internal/domain/models"

// ring is a fixed-capacity candle buffer ordered by ascending open time.
// Callers hold the owning slot's lock.
type ring struct {
	buf  []models.Candle
	head int // index of oldest entry
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Candle, capacity)}
}

func (r *ring) at(i int) *models.Candle {
	return &r.buf[(r.head+i)%len(r.buf)]
}

// upsert applies one write: same open time overwrites in place, a newer one
// appends (evicting the oldest at capacity), an out-of-order older one is
// dropped.
func (r *ring) upsert(c models.Candle) {
	if r.size > 0 {
		last := r.at(r.size - 1)
		if last.OpenTime == c.OpenTime {
			*last = c
			return
		}
		if c.OpenTime < last.OpenTime {
			// Late write into history: overwrite the matching bucket if
			// present, otherwise discard to keep ordering intact.
			for i := r.size - 2; i >= 0; i-- {
				e := r.at(i)
				if e.OpenTime == c.OpenTime {
					*e = c
					return
				}
				if e.OpenTime < c.OpenTime {
					break
				}
			}
			return
		}
	}

	if r.size == len(r.buf) {
		*r.at(0) = c // reuse the oldest cell
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	*r.at(r.size) = c
	r.size++
}

// replace resets the ring from an ascending series, keeping the newest
// entries when the input exceeds capacity.
func (r *ring) replace(candles []models.Candle) {
	r.head = 0
	r.size = 0
	start := 0
	if len(candles) > len(r.buf) {
		start = len(candles) - len(r.buf)
	}
	for _, c := range candles[start:] {
		r.buf[r.size] = c
		r.size++
	}
}

// lastN copies out up to n most recent candles in ascending order. n <= 0
// means all.
func (r *ring) lastN(n int) []models.Candle {
	if n <= 0 || n > r.size {
		n = r.size
	}
	if n == 0 {
		return nil
	}
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = *r.at(r.size - n + i)
	}
	return out
}

func (r *ring) last() (models.Candle, bool) {
	if r.size == 0 {
		return models.Candle{}, false
	}
	return *r.at(r.size - 1), true
}
