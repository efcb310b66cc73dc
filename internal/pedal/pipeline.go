package pedal

type channelState struct {
	reading Reading
	primed  bool
}

// Pipeline filters, calibrates and normalizes both pedal channels.
// Not safe for concurrent use; it is owned by the sampling task.
type Pipeline struct {
	alpha       float32
	deadZone    float32
	channels    [NumChannels]channelState
	awaitingMax bool
}

// NewPipeline creates a pipeline with both channels uncalibrated.
// alpha outside (0,1] falls back to DefaultAlpha; deadZone is clamped to [0,1).
func NewPipeline(alpha, deadZone float32) *Pipeline {
	if !(alpha > 0 && alpha <= 1) {
		alpha = DefaultAlpha
	}
	if !(deadZone >= 0) {
		deadZone = 0
	}
	if deadZone >= 1 {
		deadZone = DefaultDeadZone
	}
	p := &Pipeline{alpha: alpha, deadZone: deadZone}
	for i := range p.channels {
		p.channels[i].reading.Uncalibrated = true
	}
	return p
}

// Ingest feeds one raw ADC sample and returns the normalized position.
// Saturated or out of range samples are clamped to the ADC full scale.
func (p *Pipeline) Ingest(ch Channel, raw uint16) float32 {
	if !ch.Valid() {
		return 0
	}
	if raw > MaxRaw {
		raw = MaxRaw
	}
	cs := &p.channels[ch]
	r := &cs.reading
	r.Raw = raw

	sample := float32(raw)
	if !cs.primed {
		r.Filtered = sample
		cs.primed = true
	} else {
		r.Filtered = p.alpha*sample + (1-p.alpha)*r.Filtered
	}

	p.normalize(r)
	return r.Normalized
}

func (p *Pipeline) normalize(r *Reading) {
	n, ok := Normalize(r.Filtered, r.Calibration, p.deadZone)
	r.Normalized = n
	r.Uncalibrated = !ok
}

// Reading returns a copy of a channel's latest output.
func (p *Pipeline) Reading(ch Channel) Reading {
	if !ch.Valid() {
		return Reading{Uncalibrated: true}
	}
	return p.channels[ch].reading
}

// Readings returns both channels.
func (p *Pipeline) Readings() [NumChannels]Reading {
	return [NumChannels]Reading{p.channels[Throttle].reading, p.channels[Brake].reading}
}

// SetCalibration installs a known calibration, e.g. from configuration.
func (p *Pipeline) SetCalibration(ch Channel, cal Calibration) {
	if !ch.Valid() {
		return
	}
	r := &p.channels[ch].reading
	r.Calibration = cal
	p.normalize(r)
}

// CalibrateZero records the current filtered sample as the released position.
// The max point is cleared, so the channel reports Uncalibrated until
// CalibrateMax is called.
func (p *Pipeline) CalibrateZero(ch Channel) {
	if !ch.Valid() {
		return
	}
	r := &p.channels[ch].reading
	r.Calibration = Calibration{Zero: r.Filtered, ZeroSet: true}
	p.normalize(r)
}

// CalibrateMax records the current filtered sample as the fully pressed position.
func (p *Pipeline) CalibrateMax(ch Channel) {
	if !ch.Valid() {
		return
	}
	r := &p.channels[ch].reading
	r.Calibration.Max = r.Filtered
	r.Calibration.MaxSet = true
	p.normalize(r)
}

// Trigger advances the calibration sequence for both channels: the first
// trigger records zero points, the second records max points, the next one
// starts over.
func (p *Pipeline) Trigger() Point {
	if !p.awaitingMax {
		for ch := Channel(0); ch < NumChannels; ch++ {
			p.CalibrateZero(ch)
		}
		p.awaitingMax = true
		return PointZero
	}
	for ch := Channel(0); ch < NumChannels; ch++ {
		p.CalibrateMax(ch)
	}
	p.awaitingMax = false
	return PointMax
}

// Calibrating reports whether a zero point was recorded and the max point is pending.
func (p *Pipeline) Calibrating() bool {
	return p.awaitingMax
}
