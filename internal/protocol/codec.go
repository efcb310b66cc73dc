package protocol

import (
	"encoding/binary"
	"math"
)

var le = binary.LittleEndian

func putF32(b []byte, v float32) {
	le.PutUint32(b, math.Float32bits(v))
}

func getF32(b []byte) float32 {
	return math.Float32frombits(le.Uint32(b))
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func unit(v float32) bool {
	return finite(v) && v >= 0 && v <= 1
}

func putHeader(b []byte, h Header) {
	le.PutUint16(b[0:], Magic)
	b[2] = Version
	b[3] = uint8(h.Kind)
	le.PutUint32(b[4:], h.Seq)
	le.PutUint32(b[8:], h.UptimeMs)
}

// ParseHeader validates and returns the header of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &DecodeError{Err: ErrShort}
	}
	h := Header{Kind: Kind(b[3]), Seq: le.Uint32(b[4:]), UptimeMs: le.Uint32(b[8:])}
	if le.Uint16(b[0:]) != Magic {
		return h, &DecodeError{Kind: h.Kind, Err: ErrMagic}
	}
	if b[2] != Version {
		return h, &DecodeError{Kind: h.Kind, Err: ErrVersion}
	}
	size := BodySize(h.Kind)
	if size < 0 {
		return h, &DecodeError{Kind: h.Kind, Err: ErrKind}
	}
	if len(b) != HeaderSize+size {
		return h, &DecodeError{Kind: h.Kind, Err: ErrLength}
	}
	return h, nil
}

func encode(b []byte, h Header, put func([]byte)) (int, error) {
	n := HeaderSize + BodySize(h.Kind)
	if len(b) < n {
		return 0, ErrBuffer
	}
	putHeader(b, h)
	put(b[HeaderSize:n])
	return n, nil
}

// EncodeSteering writes a steering message into b and returns its length.
func EncodeSteering(b []byte, seq, uptimeMs uint32, m *Steering) (int, error) {
	return encode(b, Header{Kind: KindSteering, Seq: seq, UptimeMs: uptimeMs}, func(p []byte) { putSteering(p, m) })
}

// EncodeVehicle writes a vehicle message into b and returns its length.
func EncodeVehicle(b []byte, seq, uptimeMs uint32, m *Vehicle) (int, error) {
	return encode(b, Header{Kind: KindVehicle, Seq: seq, UptimeMs: uptimeMs}, func(p []byte) { putVehicle(p, m) })
}

// EncodeBattery writes a battery message into b and returns its length.
func EncodeBattery(b []byte, seq, uptimeMs uint32, m *Battery) (int, error) {
	return encode(b, Header{Kind: KindBattery, Seq: seq, UptimeMs: uptimeMs}, func(p []byte) { putBattery(p, m) })
}

// EncodeTelemetry writes a telemetry message into b and returns its length.
func EncodeTelemetry(b []byte, seq, uptimeMs uint32, m *Telemetry) (int, error) {
	return encode(b, Header{Kind: KindTelemetry, Seq: seq, UptimeMs: uptimeMs}, func(p []byte) { putTelemetry(p, m) })
}

func putSteering(b []byte, m *Steering) {
	le.PutUint16(b[0:], m.Buttons)
	le.PutUint16(b[2:], m.Toggles)
	le.PutUint16(b[4:], m.LEDs)
	var leds uint8
	for i, mode := range m.StatusLEDs {
		leds |= uint8(mode&3) << (2 * i)
	}
	b[6] = leds
	b[7] = m.Flags
	putF32(b[8:], m.Throttle)
	putF32(b[12:], m.Brake)
	le.PutUint32(b[16:], m.Screen)
	le.PutUint32(b[20:], m.TrackerVC)
	le.PutUint32(b[24:], m.TrackerBMS)
}

func putVehicle(b []byte, m *Vehicle) {
	putF32(b[0:], m.Speed)
	le.PutUint32(b[4:], m.DriveMode)
	le.PutUint32(b[8:], m.Lights)
	le.PutUint32(b[12:], m.Flags)
	le.PutUint16(b[16:], m.LEDOverride)
	le.PutUint16(b[18:], 0)
}

func putBattery(b []byte, m *Battery) {
	putF32(b[0:], m.Voltage)
	putF32(b[4:], m.Current)
	putF32(b[8:], m.SOC)
	putF32(b[12:], m.MaxTemp)
	le.PutUint32(b[16:], m.Flags)
}

func putTelemetry(b []byte, m *Telemetry) {
	le.PutUint32(b[0:], m.Stale)
	o := 4
	putSteering(b[o:], &m.Steering)
	o += SteeringSize
	putVehicle(b[o:], &m.Vehicle)
	o += VehicleSize
	putBattery(b[o:], &m.Battery)
}

// Decode parses b into m. On error m may be partially written and must
// not be used.
func Decode(b []byte, m *Message) error {
	h, err := ParseHeader(b)
	if err != nil {
		return err
	}
	m.Header = h
	body := b[HeaderSize:]
	var field string
	switch h.Kind {
	case KindSteering:
		field = getSteering(body, &m.Steering)
	case KindVehicle:
		field = getVehicle(body, &m.Vehicle)
	case KindBattery:
		field = getBattery(body, &m.Battery)
	case KindTelemetry:
		field = getTelemetry(body, &m.Telemetry)
	}
	if field != "" {
		return &DecodeError{Kind: h.Kind, Field: field, Err: ErrValue}
	}
	return nil
}

// The get functions return the name of the first invalid field, or "".

func getSteering(b []byte, m *Steering) string {
	m.Buttons = le.Uint16(b[0:])
	m.Toggles = le.Uint16(b[2:])
	m.LEDs = le.Uint16(b[4:])
	for i := range m.StatusLEDs {
		m.StatusLEDs[i] = LEDMode(b[6]>>(2*i)) & 3
	}
	m.Flags = b[7]
	m.Throttle = getF32(b[8:])
	m.Brake = getF32(b[12:])
	m.Screen = le.Uint32(b[16:])
	m.TrackerVC = le.Uint32(b[20:])
	m.TrackerBMS = le.Uint32(b[24:])
	switch {
	case !unit(m.Throttle):
		return "throttle"
	case !unit(m.Brake):
		return "brake"
	}
	return ""
}

func getVehicle(b []byte, m *Vehicle) string {
	m.Speed = getF32(b[0:])
	m.DriveMode = le.Uint32(b[4:])
	m.Lights = le.Uint32(b[8:])
	m.Flags = le.Uint32(b[12:])
	m.LEDOverride = le.Uint16(b[16:])
	switch {
	case !finite(m.Speed):
		return "speed"
	case m.DriveMode > MaxDriveMode:
		return "drive_mode"
	}
	return ""
}

func getBattery(b []byte, m *Battery) string {
	m.Voltage = getF32(b[0:])
	m.Current = getF32(b[4:])
	m.SOC = getF32(b[8:])
	m.MaxTemp = getF32(b[12:])
	m.Flags = le.Uint32(b[16:])
	switch {
	case !finite(m.Voltage):
		return "voltage"
	case !finite(m.Current):
		return "current"
	case !unit(m.SOC):
		return "soc"
	case !finite(m.MaxTemp):
		return "max_temp"
	}
	return ""
}

func getTelemetry(b []byte, m *Telemetry) string {
	m.Stale = le.Uint32(b[0:])
	o := 4
	if f := getSteering(b[o:], &m.Steering); f != "" {
		return "steering." + f
	}
	o += SteeringSize
	if f := getVehicle(b[o:], &m.Vehicle); f != "" {
		return "vehicle." + f
	}
	o += VehicleSize
	if f := getBattery(b[o:], &m.Battery); f != "" {
		return "battery." + f
	}
	return ""
}
