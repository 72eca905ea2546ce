package ruuvitag

import "encoding/binary"

// PayloadLength is the exact size of a Data Format 5 frame in bytes.
const PayloadLength = 24

// Envelope is one manufacturer-specific data block as delivered by the
// Bluetooth stack: the company identifier plus the vendor payload.
type Envelope struct {
	CompanyID uint16
	Payload   []byte
}

// EnvelopeFromManufacturerData splits a raw BLE manufacturer data block into
// its company identifier (first two bytes, little-endian per the BLE
// convention) and payload.
func EnvelopeFromManufacturerData(raw []byte) (Envelope, error) {
	if len(raw) < 2 {
		return Envelope{}, &MalformedEnvelopeError{
			Reason: "manufacturer data shorter than the 2-byte company identifier",
		}
	}
	return Envelope{
		CompanyID: binary.LittleEndian.Uint16(raw[0:2]),
		Payload:   raw[2:],
	}, nil
}

// Decode parses a Data Format 5 frame from env into a SensorReading.
//
// The company identifier is not validated; neither is the format version
// byte (see DecodeStrict). All errors are recoverable per frame: a caller
// streaming advertisements should drop the frame and continue.
func Decode(env Envelope) (*SensorReading, error) {
	if env.Payload == nil {
		return nil, &MalformedEnvelopeError{Reason: "envelope carries no payload"}
	}
	if len(env.Payload) != PayloadLength {
		return nil, &InvalidPayloadLengthError{Expected: PayloadLength, Actual: len(env.Payload)}
	}

	p := env.Payload
	r := &SensorReading{
		formatVersion: p[0],
		temperature:   int16(joinU8(p[1], p[2])),
		humidity:      joinU8(p[3], p[4]),
		pressure:      joinU8(p[5], p[6]),
		acceleration: Acceleration{
			X: int16(joinU8(p[7], p[8])),
			Y: int16(joinU8(p[9], p[10])),
			Z: int16(joinU8(p[11], p[12])),
		},
		powerInfo: joinU8(p[13], p[14]),
		movement:  p[15],
		sequence:  joinU8(p[16], p[17]),
	}
	copy(r.mac[:], p[18:24])
	return r, nil
}

// DecodeStrict is Decode with the format version byte enforced: a version
// other than 5 yields an UnsupportedFormatVersionError.
func DecodeStrict(env Envelope) (*SensorReading, error) {
	r, err := Decode(env)
	if err != nil {
		return nil, err
	}
	if r.formatVersion != FormatVersion5 {
		return nil, &UnsupportedFormatVersionError{Version: r.formatVersion}
	}
	return r, nil
}

// joinU8 forms a big-endian 16-bit word from two bytes,
// e.g. 0xA1 + 0xB2 = 0xA1B2.
func joinU8(high, low uint8) uint16 {
	return uint16(high)<<8 | uint16(low)
}
