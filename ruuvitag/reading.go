// Package ruuvitag decodes RuuviTag Data Format 5 (RAWv2) manufacturer data
// into typed sensor readings.
//
// Format reference:
// https://github.com/ruuvi/ruuvi-sensor-protocols/blob/master/dataformat_05.md
package ruuvitag

import (
	"fmt"
	"strings"
)

const (
	// FormatVersion5 is the Data Format 5 (RAWv2) version byte.
	FormatVersion5 uint8 = 5

	// CompanyIDRuuvi is the Bluetooth SIG company identifier assigned to
	// Ruuvi Innovations Ltd.
	CompanyIDRuuvi uint16 = 0x0499

	batteryOffsetMillivolts = 1600
	txPowerOffsetDBm        = -40
)

// Acceleration holds one acceleration sample per axis, in milli-g.
type Acceleration struct {
	X int16
	Y int16
	Z int16
}

// SensorReading is one decoded Data Format 5 frame.
//
// It stores the raw on-air fields; physical values are derived on demand by
// the accessor methods. Readings are immutable after construction and safe
// to share between goroutines.
type SensorReading struct {
	formatVersion uint8
	temperature   int16
	humidity      uint16
	pressure      uint16
	acceleration  Acceleration
	powerInfo     uint16
	movement      uint8
	sequence      uint16
	mac           [6]byte
}

// FormatVersion returns the raw format version byte of the frame.
func (r *SensorReading) FormatVersion() uint8 { return r.formatVersion }

// TemperatureMillicelsius returns the temperature in units of 0.001 degrees
// Celsius. The raw field is in 0.005 degree steps, so the result is widened
// to int32 to stay exact at the extremes.
func (r *SensorReading) TemperatureMillicelsius() int32 {
	return int32(r.temperature) * 5
}

// TemperatureCelsius returns the temperature in degrees Celsius.
func (r *SensorReading) TemperatureCelsius() float64 {
	return float64(r.TemperatureMillicelsius()) / 1000
}

// HumidityPercent returns the relative humidity as a percentage.
func (r *SensorReading) HumidityPercent() float64 {
	return float64(r.humidity) / 400
}

// PressurePascal returns the atmospheric pressure in pascals.
// The raw field is an offset from 50000 Pa.
func (r *SensorReading) PressurePascal() uint32 {
	return 50000 + uint32(r.pressure)
}

// AccelerationMG returns the acceleration sample in milli-g.
func (r *SensorReading) AccelerationMG() Acceleration {
	return r.acceleration
}

// BatteryMillivolts returns the battery voltage in millivolts, unpacked from
// the top 11 bits of the power-info word.
func (r *SensorReading) BatteryMillivolts() uint16 {
	return (r.powerInfo >> 5) + batteryOffsetMillivolts
}

// TxPowerDBm returns the transmit power in dBm, unpacked from the bottom
// 5 bits of the power-info word in 2 dBm steps.
func (r *SensorReading) TxPowerDBm() int8 {
	return int8(r.powerInfo&0x1F)*2 + txPowerOffsetDBm
}

// MovementCounter returns the movement counter. It wraps at 255.
func (r *SensorReading) MovementCounter() uint8 { return r.movement }

// MeasurementSequence returns the measurement sequence number. It wraps at
// 65535.
func (r *SensorReading) MeasurementSequence() uint16 { return r.sequence }

// MAC returns the six device address octets as broadcast, most significant
// octet first.
func (r *SensorReading) MAC() [6]byte { return r.mac }

// MACString renders the device address as colon-separated uppercase hex
// octets, e.g. "CC:6F:70:EE:4C:AD".
func (r *SensorReading) MACString() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		r.mac[0], r.mac[1], r.mac[2], r.mac[3], r.mac[4], r.mac[5])
}

// String returns a multi-line diagnostic rendering of the reading.
func (r *SensorReading) String() string {
	var b strings.Builder
	acc := r.AccelerationMG()
	fmt.Fprintf(&b, "MAC address: %s\n", r.MACString())
	fmt.Fprintf(&b, "Temperature (°C): %.3f\n", r.TemperatureCelsius())
	fmt.Fprintf(&b, "Humidity (%%): %.2f\n", r.HumidityPercent())
	fmt.Fprintf(&b, "Atmospheric pressure (Pa): %d\n", r.PressurePascal())
	fmt.Fprintf(&b, "Acceleration (mG): X=%d Y=%d Z=%d\n", acc.X, acc.Y, acc.Z)
	fmt.Fprintf(&b, "Battery voltage (mV): %d\n", r.BatteryMillivolts())
	fmt.Fprintf(&b, "Tx power (dBm): %d\n", r.TxPowerDBm())
	fmt.Fprintf(&b, "Movement counter: %d\n", r.MovementCounter())
	fmt.Fprintf(&b, "Measurement sequence number: %d", r.MeasurementSequence())
	return b.String()
}
