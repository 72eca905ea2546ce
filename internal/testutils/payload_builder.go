package testutils

import (
	"encoding/binary"

	"github.com/Paippi/ruuviscanner/ruuvitag"
)

// PayloadBuilder assembles Data Format 5 frames for testing.
// It provides a fluent API starting from a valid all-zero frame so tests
// only set the fields they care about.
type PayloadBuilder struct {
	format      uint8
	temperature int16
	humidity    uint16
	pressure    uint16
	accX        int16
	accY        int16
	accZ        int16
	powerInfo   uint16
	movement    uint8
	sequence    uint16
	mac         [6]byte
}

// NewPayloadBuilder creates a builder for a format-5 frame with all fields
// zeroed.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{format: ruuvitag.FormatVersion5}
}

// WithFormat overrides the format version byte.
func (b *PayloadBuilder) WithFormat(v uint8) *PayloadBuilder {
	b.format = v
	return b
}

// WithTemperatureRaw sets the raw temperature field (0.005 °C units).
func (b *PayloadBuilder) WithTemperatureRaw(raw int16) *PayloadBuilder {
	b.temperature = raw
	return b
}

// WithHumidityRaw sets the raw humidity field (0.0025 % units).
func (b *PayloadBuilder) WithHumidityRaw(raw uint16) *PayloadBuilder {
	b.humidity = raw
	return b
}

// WithPressureRaw sets the raw pressure field (offset from 50000 Pa).
func (b *PayloadBuilder) WithPressureRaw(raw uint16) *PayloadBuilder {
	b.pressure = raw
	return b
}

// WithAcceleration sets the three acceleration fields in mG.
func (b *PayloadBuilder) WithAcceleration(x, y, z int16) *PayloadBuilder {
	b.accX, b.accY, b.accZ = x, y, z
	return b
}

// WithPowerInfo sets the packed battery/tx-power word.
func (b *PayloadBuilder) WithPowerInfo(w uint16) *PayloadBuilder {
	b.powerInfo = w
	return b
}

// WithMovementCounter sets the movement counter byte.
func (b *PayloadBuilder) WithMovementCounter(n uint8) *PayloadBuilder {
	b.movement = n
	return b
}

// WithSequence sets the measurement sequence number.
func (b *PayloadBuilder) WithSequence(n uint16) *PayloadBuilder {
	b.sequence = n
	return b
}

// WithMAC sets the six device address octets, most significant first.
func (b *PayloadBuilder) WithMAC(mac [6]byte) *PayloadBuilder {
	b.mac = mac
	return b
}

// Build returns the 24-byte frame.
func (b *PayloadBuilder) Build() []byte {
	p := make([]byte, ruuvitag.PayloadLength)
	p[0] = b.format
	binary.BigEndian.PutUint16(p[1:3], uint16(b.temperature))
	binary.BigEndian.PutUint16(p[3:5], b.humidity)
	binary.BigEndian.PutUint16(p[5:7], b.pressure)
	binary.BigEndian.PutUint16(p[7:9], uint16(b.accX))
	binary.BigEndian.PutUint16(p[9:11], uint16(b.accY))
	binary.BigEndian.PutUint16(p[11:13], uint16(b.accZ))
	binary.BigEndian.PutUint16(p[13:15], b.powerInfo)
	p[15] = b.movement
	binary.BigEndian.PutUint16(p[16:18], b.sequence)
	copy(p[18:24], b.mac[:])
	return p
}

// BuildManufacturerData returns the frame prefixed with the little-endian
// Ruuvi company identifier, the shape a BLE stack delivers.
func (b *PayloadBuilder) BuildManufacturerData() []byte {
	raw := make([]byte, 2, 2+ruuvitag.PayloadLength)
	binary.LittleEndian.PutUint16(raw[0:2], ruuvitag.CompanyIDRuuvi)
	return append(raw, b.Build()...)
}
