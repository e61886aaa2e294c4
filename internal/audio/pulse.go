package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	frameSizeBytes = 640 // 20ms @ 16kHz mono s16
	echoCancelTag  = "echo-cancel"
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// Permission is the observed microphone access state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("hark"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, classifyPulseError(fmt.Errorf("connect pulse server: %w", err))
	}
	return client, nil
}

// QueryPermission reports whether this process may open capture sources.
// Prompt is returned when access cannot be decided without trying.
func QueryPermission(_ context.Context) (Permission, error) {
	client, err := newPulseClient()
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return PermissionDenied, err
		}
		return PermissionPrompt, err
	}
	client.Close()
	return PermissionGranted, nil
}

// ListDevices returns available Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, classifyPulseError(fmt.Errorf("read default source: %w", err))
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, classifyPulseError(fmt.Errorf("list sources: %w", err))
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves input/fallback preferences against live devices.
func SelectDevice(ctx context.Context, c Constraints) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, c.Input, c.Fallback, c.EchoCancellation)
}

// selectDeviceFromList applies selection policy to a pre-fetched device list.
//
// With preferEchoCancel and a default input, a usable module-echo-cancel
// source wins over the plain default; that module also carries the noise
// suppression and gain control stages.
func selectDeviceFromList(devices []Device, input string, fallback string, preferEchoCancel bool) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, fmt.Errorf("%w: no audio input devices found", ErrDeviceUnavailable)
	}

	var (
		defaultDevice *Device
		echoDevice    *Device
		byInput       *Device
		byFallback    *Device
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if echoDevice == nil && dev.Available && !dev.Muted && deviceMatches(*dev, echoCancelTag) {
			echoDevice = dev
		}
		if byInput == nil && !isDefaultName(input) && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && !isDefaultName(fallback) && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	if preferEchoCancel && isDefaultName(input) && echoDevice != nil {
		return Selection{Device: *echoDevice}, nil
	}

	var primary *Device
	switch {
	case isDefaultName(input):
		if defaultDevice == nil {
			return Selection{}, fmt.Errorf("%w: default audio source is unavailable", ErrDeviceUnavailable)
		}
		primary = defaultDevice
	case byInput != nil:
		primary = byInput
	default:
		return Selection{}, fmt.Errorf("%w: audio.input %q did not match any device", ErrDeviceUnavailable, input)
	}
	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	primaryReason := "unavailable"
	if primary.Muted {
		primaryReason = "muted"
	}

	candidate := defaultDevice
	if !isDefaultName(fallback) {
		if byFallback == nil {
			return Selection{}, fmt.Errorf("%w: primary input %q is %s and fallback %q not found", ErrDeviceUnavailable, primary.ID, primaryReason, fallback)
		}
		candidate = byFallback
	}
	if candidate == nil {
		return Selection{}, fmt.Errorf("%w: primary input %q is %s and no usable fallback", ErrDeviceUnavailable, primary.ID, primaryReason)
	}
	if !candidate.Available {
		return Selection{}, fmt.Errorf("%w: fallback device %q is not available", ErrDeviceUnavailable, candidate.ID)
	}
	if candidate.Muted {
		return Selection{}, fmt.Errorf("%w: fallback device %q is muted", ErrDeviceUnavailable, candidate.ID)
	}

	return Selection{
		Device:   *candidate,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primaryReason, candidate.ID),
		Fallback: primary.ID != candidate.ID,
	}, nil
}

func isDefaultName(name string) bool {
	return name == "" || name == "default"
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// PulseAcquirer opens capture streams on the local Pulse server.
type PulseAcquirer struct{}

// Acquire selects a source and starts a record stream. Cancelling ctx while
// the server is still answering abandons the attempt and releases any stream
// that arrives afterwards.
func (PulseAcquirer) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if c.Channels != Channels {
		return nil, fmt.Errorf("%w: only mono capture is supported (got %d channels)", ErrDeviceUnavailable, c.Channels)
	}
	if c.SampleRate <= 0 {
		c.SampleRate = SampleRate
	}

	type outcome struct {
		capture *Capture
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		selection, err := SelectDevice(ctx, c)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		capture, err := StartCapture(selection.Device, c.SampleRate)
		done <- outcome{capture: capture, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.capture, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.capture != nil {
				_ = res.capture.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Capture streams fixed-size PCM frames from one selected Pulse source.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []int16
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartCapture creates and starts a mono s16 record stream at sampleRate.
func StartCapture(selected Device, sampleRate int) (*Capture, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, classifyPulseError(fmt.Errorf("resolve source %q: %w", selected.ID, err))
	}

	capture := &Capture{
		device: selected,
		client: client,
		frames: make(chan []int16, 128),
		stopCh: make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(frameSizeBytes),
		pulse.RecordMediaName("hark interview capture"),
	)
	if err != nil {
		_ = capture.Close()
		return nil, classifyPulseError(fmt.Errorf("create pulse record stream: %w", err))
	}

	capture.stream = stream
	stream.Start()
	return capture, nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Frames returns the PCM stream as fixed-size sample slices.
func (c *Capture) Frames() <-chan []int16 {
	return c.frames
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Close halts the stream, flushes residual PCM, and closes Frames exactly once.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) >= 2 {
		select {
		case c.frames <- decodeInt16LE(pending):
		default:
		}
	}

	close(c.frames)
	return nil
}

// onPCM receives raw Pulse bytes and emits frameSizeBytes frames.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped so Close never races Wait.
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)
	frames := make([][]int16, 0, len(c.pending)/frameSizeBytes)
	for len(c.pending) >= frameSizeBytes {
		frames = append(frames, decodeInt16LE(c.pending[:frameSizeBytes]))
		c.pending = c.pending[frameSizeBytes:]
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	for _, frame := range frames {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.frames <- frame:
		}
	}

	return len(buffer), nil
}

func decodeInt16LE(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
