package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/rbright/hark/internal/vad"
)

// DefaultAnalysisWindow is the number of samples the analyser keeps.
const DefaultAnalysisWindow = 1024

const bytesPerSample = 4 // float32 LE

// Analyser keeps the latest window of normalized samples for amplitude reads.
// Oldest samples are dropped when the window is full.
type Analyser struct {
	mu     sync.Mutex
	window int
	rb     *ringbuffer.RingBuffer
	closed bool
}

// NewAnalyser creates an analyser over a window of samples.
func NewAnalyser(window int) *Analyser {
	if window <= 0 {
		window = DefaultAnalysisWindow
	}
	return &Analyser{
		window: window,
		rb:     ringbuffer.New(window * bytesPerSample).SetBlocking(false),
	}
}

// Window reports the analyser capacity in samples.
func (a *Analyser) Window() int {
	return a.window
}

// Write appends PCM samples, normalized to [-1, 1].
func (a *Analyser) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	if len(samples) > a.window {
		samples = samples[len(samples)-a.window:]
	}

	raw := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*bytesPerSample:], math.Float32bits(float32(s)/32768))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if need := len(raw) - a.rb.Free(); need > 0 {
		_, _ = a.rb.Read(make([]byte, need))
	}
	_, _ = a.rb.Write(raw)
}

// Samples copies the current window, oldest first.
func (a *Analyser) Samples() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.rb.Length()
	if n == 0 {
		return nil
	}
	raw := make([]byte, n)
	raw = a.rb.Bytes(raw)

	out := make([]float32, len(raw)/bytesPerSample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}
	return out
}

// Amplitude returns RMS over the current window.
func (a *Analyser) Amplitude() float64 {
	return vad.RMS(a.Samples())
}

// Close drops buffered samples and ignores further writes.
func (a *Analyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.rb.Reset()
	return nil
}
