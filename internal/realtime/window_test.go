package realtime

import (
	"testing"

	"pgregory.net/rapid"
)

func TestAudioWindow_Append(t *testing.T) {
	w := newAudioWindow(10, 1, 0.2)

	if got := w.Append(make([]float32, 9)); len(got) != 0 {
		t.Fatalf("expected no window yet, got %d", len(got))
	}

	got := w.Append(make([]float32, 20))
	if len(got) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(got))
	}
	offsets := []float64{0, 0.8, 1.6}
	for i, win := range got {
		if len(win.samples) != 10 {
			t.Errorf("window %d: expected 10 samples, got %d", i, len(win.samples))
		}
		if win.offset != offsets[i] {
			t.Errorf("window %d: expected offset %v, got %v", i, offsets[i], win.offset)
		}
	}

	rest, ok := w.Flush()
	if !ok {
		t.Fatal("expected remainder")
	}
	if len(rest.samples) != 5 || rest.offset != 2.4 {
		t.Errorf("unexpected remainder: %d samples at %v", len(rest.samples), rest.offset)
	}
}

func TestAudioWindow_FlushSkipsCoveredOverlap(t *testing.T) {
	w := newAudioWindow(10, 1, 0.2)
	w.Append(make([]float32, 10))

	if _, ok := w.Flush(); ok {
		t.Error("overlap already transcribed should not be flushed")
	}
}

func TestAudioWindow_FlushShortStream(t *testing.T) {
	w := newAudioWindow(10, 1, 0.2)
	w.Append(make([]float32, 1))

	win, ok := w.Flush()
	if !ok || len(win.samples) != 1 {
		t.Fatalf("expected single sample window, got %v %d", ok, len(win.samples))
	}
	if _, ok := w.Flush(); ok {
		t.Error("second flush should be empty")
	}
}

func TestAudioWindow_WindowsDoNotAlias(t *testing.T) {
	w := newAudioWindow(4, 1, 0.5)
	in := []float32{1, 2, 3, 4}
	got := w.Append(in)
	w.Append([]float32{9, 9, 9, 9})

	if got[0].samples[0] != 1 || got[0].samples[3] != 4 {
		t.Errorf("window was overwritten: %v", got[0].samples)
	}
}

func TestAudioWindow_CoversEverySample(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.IntRange(4, 64).Draw(t, "rate")
		w := newAudioWindow(rate, 1, 0.25)
		chunks := rapid.SliceOf(rapid.IntRange(0, 3*rate)).Draw(t, "chunks")

		total := 0
		end := 0.0
		for _, n := range chunks {
			total += n
			for _, win := range w.Append(make([]float32, n)) {
				end = win.offset + float64(len(win.samples))/float64(rate)
			}
		}
		if win, ok := w.Flush(); ok {
			end = win.offset + float64(len(win.samples))/float64(rate)
		}

		want := float64(total) / float64(rate)
		if diff := end - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("windows end at %v, stream is %v long", end, want)
		}
	})
}
