package voice

import (
	"math"
	"sync"
	"time"

	"go-chatsync/internal/clock"
)

const (
	DefaultSampleInterval = 80 * time.Millisecond
	DefaultSilenceSamples = 3
	DefaultThreshold      = 10.0
)

type DetectorOptions struct {
	Clock          clock.Clock
	SampleInterval time.Duration
	// SilenceSamples is how many quiet samples in a row end speaking.
	SilenceSamples int
	Threshold      float64
}

// SpeakingDetector classifies the microphone as speaking or silent from
// the RMS of its frequency data. It starts speaking on the first loud
// sample and stops only after SilenceSamples quiet ones. onChange sees
// transitions only.
type SpeakingDetector struct {
	source   AudioSource
	opts     DetectorOptions
	onChange func(speaking bool)

	mu       sync.Mutex
	speaking bool
	quiet    int

	runMu   sync.Mutex
	ticker  clock.Ticker
	done    chan struct{}
	stopped chan struct{}
}

func NewSpeakingDetector(source AudioSource, opts DetectorOptions, onChange func(bool)) *SpeakingDetector {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if opts.SilenceSamples <= 0 {
		opts.SilenceSamples = DefaultSilenceSamples
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &SpeakingDetector{source: source, opts: opts, onChange: onChange}
}

// Start samples every SampleInterval until Stop. Calling Start twice is a
// no-op.
func (d *SpeakingDetector) Start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.ticker != nil {
		return
	}

	ticker := d.opts.Clock.NewTicker(d.opts.SampleInterval)
	done := make(chan struct{})
	stopped := make(chan struct{})
	d.ticker, d.done, d.stopped = ticker, done, stopped

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				d.Sample()
			}
		}
	}()
}

// Stop ends sampling. If the last state was speaking, onChange(false) is
// called once so that listeners never keep a stale speaking flag.
func (d *SpeakingDetector) Stop() {
	d.runMu.Lock()
	if d.ticker != nil {
		d.ticker.Stop()
		close(d.done)
		<-d.stopped
		d.ticker = nil
	}
	d.runMu.Unlock()

	d.mu.Lock()
	was := d.speaking
	d.speaking = false
	d.quiet = 0
	d.mu.Unlock()

	if was {
		d.emit(false)
	}
}

// Sample takes one reading. It is exported so tests and callers with their
// own scheduling can drive the detector directly.
func (d *SpeakingDetector) Sample() {
	loud := false
	if stream := d.source.Audio(); stream != nil {
		loud = RMS(stream.FrequencyData()) > d.opts.Threshold
	}

	d.mu.Lock()
	changed := false
	switch {
	case loud:
		d.quiet = 0
		if !d.speaking {
			d.speaking = true
			changed = true
		}
	case d.speaking:
		d.quiet++
		if d.quiet >= d.opts.SilenceSamples {
			d.speaking = false
			d.quiet = 0
			changed = true
		}
	}
	speaking := d.speaking
	d.mu.Unlock()

	if changed {
		d.emit(speaking)
	}
}

func (d *SpeakingDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *SpeakingDetector) emit(speaking bool) {
	if d.onChange != nil {
		d.onChange(speaking)
	}
}

// RMS is the root mean square of values, 0 for an empty slice.
func RMS(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(values)))
}
