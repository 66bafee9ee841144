package realtime

// audioWindow slices a growing sample buffer into fixed-size windows that
// overlap by a fixed number of samples.
type audioWindow struct {
	sampleRate int
	chunk      int
	overlap    int
	buf        []float32
	consumed   int
	emitted    bool
}

type window struct {
	samples []float32
	offset  float64
}

func newAudioWindow(sampleRate int, chunkSeconds, overlapSeconds float64) *audioWindow {
	chunk := int(chunkSeconds * float64(sampleRate))
	if chunk <= 0 {
		chunk = 1
	}
	overlap := int(overlapSeconds * float64(sampleRate))
	if overlap >= chunk {
		overlap = 0
	}
	return &audioWindow{
		sampleRate: sampleRate,
		chunk:      chunk,
		overlap:    overlap,
	}
}

func (w *audioWindow) Append(samples []float32) []window {
	w.buf = append(w.buf, samples...)

	var out []window
	for len(w.buf) >= w.chunk {
		out = append(out, w.take(w.chunk))
		step := w.chunk - w.overlap
		w.buf = append(w.buf[:0], w.buf[step:]...)
		w.consumed += step
		w.emitted = true
	}
	return out
}

// Flush returns the remaining samples. It reports false when nothing is left
// beyond the overlap already covered by the previous window.
func (w *audioWindow) Flush() (window, bool) {
	if len(w.buf) == 0 || (w.emitted && len(w.buf) <= w.overlap) {
		w.buf = w.buf[:0]
		return window{}, false
	}
	win := w.take(len(w.buf))
	w.consumed += len(w.buf)
	w.buf = w.buf[:0]
	return win, true
}

func (w *audioWindow) take(n int) window {
	samples := make([]float32, n)
	copy(samples, w.buf[:n])
	return window{
		samples: samples,
		offset:  float64(w.consumed) / float64(w.sampleRate),
	}
}
