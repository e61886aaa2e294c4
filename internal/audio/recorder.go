package audio

import (
	"sync"
	"time"
)

const (
	// BlobMIMEType is the content type of recorded blobs.
	BlobMIMEType = "audio/wav"
	// BlobFilename is the multipart filename used for uploads.
	BlobFilename = "recording.wav"
)

// Blob is one finalized recording.
type Blob struct {
	Data       []byte
	MIMEType   string
	Filename   string
	Duration   time.Duration
	SampleRate int
}

// Empty reports whether the blob carries no audio samples.
func (b Blob) Empty() bool {
	return len(b.Data) <= wavHeaderSize
}

// Recorder buffers PCM for one session and flushes it into a Blob on Stop.
type Recorder struct {
	mu         sync.Mutex
	sampleRate int
	samples    []int16
	stopped    bool
	blob       Blob
}

// NewRecorder creates a recorder for mono PCM at sampleRate.
func NewRecorder(sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &Recorder{
		sampleRate: sampleRate,
		samples:    make([]int16, 0, sampleRate*4),
	}
}

// Write appends samples. Writes after Stop are dropped.
func (r *Recorder) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.samples = append(r.samples, samples...)
}

// Len reports buffered sample count.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Stop flushes buffered audio. Repeated calls return the same blob.
func (r *Recorder) Stop() Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return r.blob
	}
	r.stopped = true
	r.blob = Blob{
		Data:       EncodeWAV(r.samples, r.sampleRate, Channels),
		MIMEType:   BlobMIMEType,
		Filename:   BlobFilename,
		Duration:   PCMDuration(len(r.samples), r.sampleRate),
		SampleRate: r.sampleRate,
	}
	r.samples = nil
	return r.blob
}
