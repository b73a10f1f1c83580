package ffmpeg

import (
	"time"

	"github.com/forPelevin/trigreel/internal/ports"
)

// transport is the playhead: a position anchored to the wall clock while
// playing. It is not safe for concurrent use; Player guards it.
type transport struct {
	clock    ports.Clock
	duration time.Duration

	base    time.Duration
	anchor  time.Time
	rate    float64
	playing bool

	spanStart time.Duration
	recording bool
	spans     []ports.Span
	muted     bool
}

func newTransport(clock ports.Clock, duration time.Duration) *transport {
	return &transport{clock: clock, duration: duration, rate: 1}
}

func (t *transport) position() time.Duration {
	pos := t.base
	if t.playing {
		pos += time.Duration(float64(t.clock.Now().Sub(t.anchor)) * t.rate)
	}
	if t.duration > 0 && pos > t.duration {
		pos = t.duration
	}
	return pos
}

func (t *transport) reanchor() {
	t.base = t.position()
	t.anchor = t.clock.Now()
}

func (t *transport) seek(pos time.Duration) {
	t.closeSpan()
	if pos < 0 {
		pos = 0
	}
	if t.duration > 0 && pos > t.duration {
		pos = t.duration
	}
	t.base = pos
	t.anchor = t.clock.Now()
	t.openSpan()
}

func (t *transport) play() {
	if t.playing {
		return
	}
	t.anchor = t.clock.Now()
	t.playing = true
	t.openSpan()
}

func (t *transport) pause() {
	if !t.playing {
		return
	}
	t.closeSpan()
	t.base = t.position()
	t.playing = false
}

func (t *transport) setRate(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	t.closeSpan()
	t.reanchor()
	t.rate = rate
	t.openSpan()
}

func (t *transport) setMuted(m bool) {
	t.closeSpan()
	t.muted = m
	t.openSpan()
}

func (t *transport) ended() bool {
	return t.duration > 0 && t.position() >= t.duration
}

// Audible playback at 1x is recorded as spans so the encoder can cut the
// same audio out of the source.
func (t *transport) openSpan() {
	if t.playing && !t.muted && t.rate == 1 && !t.recording {
		t.spanStart = t.position()
		t.recording = true
	}
}

func (t *transport) closeSpan() {
	if !t.recording {
		return
	}
	t.recording = false
	end := t.position()
	if end > t.spanStart {
		t.spans = append(t.spans, ports.Span{Start: t.spanStart, End: end})
	}
}

func (t *transport) recordedSpans() []ports.Span {
	return append([]ports.Span(nil), t.spans...)
}
