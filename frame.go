package max31855

import (
	"errors"
	"math"
	"strings"
)

var (
	ErrOpenCircuit = errors.New("thermocouple open circuit")
	ErrShortToGND  = errors.New("thermocouple shorted to ground")
	ErrShortToVCC  = errors.New("thermocouple shorted to VCC")
	// ErrNoDevice is reported for an all-zero frame: nothing drove MISO.
	ErrNoDevice = errors.New("no device responding (all-zero frame)")
	// ErrOutOfRange is reported when the thermocouple voltage is beyond the
	// NIST type K tables.
	ErrOutOfRange = errors.New("thermocouple voltage out of type K range")
)

// Fault is the set of fault flags reported in the low bits of a frame.
type Fault uint8

const (
	OpenCircuit Fault = Fault(faultOpenCircuit)
	ShortToGND  Fault = Fault(faultShortGND)
	ShortToVCC  Fault = Fault(faultShortVCC)
)

// Has reports whether all flags in f2 are set in f.
func (f Fault) Has(f2 Fault) bool {
	return f&f2 == f2 && f2 != 0
}

func (f Fault) String() string {
	if f == 0 {
		return "none"
	}
	var s []string
	if f.Has(OpenCircuit) {
		s = append(s, "open-circuit")
	}
	if f.Has(ShortToGND) {
		s = append(s, "short-to-gnd")
	}
	if f.Has(ShortToVCC) {
		s = append(s, "short-to-vcc")
	}
	return strings.Join(s, "|")
}

// Err returns the faults as an error, nil if none are set.
func (f Fault) Err() error {
	var errs []error
	if f.Has(OpenCircuit) {
		errs = append(errs, ErrOpenCircuit)
	}
	if f.Has(ShortToGND) {
		errs = append(errs, ErrShortToGND)
	}
	if f.Has(ShortToVCC) {
		errs = append(errs, ErrShortToVCC)
	}
	return errors.Join(errs...)
}

// Reading is one decoded frame. Temperatures are in °C and NaN when invalid.
type Reading struct {
	Thermocouple float64
	Internal     float64
	Faults       Fault
	// NoDevice is set for an all-zero frame.
	NoDevice bool
	// FaultBit is the chip's aggregate fault bit (D16).
	FaultBit bool
	// Reserved is D17, documented as always zero but not validated.
	Reserved bool
}

// Valid reports whether the thermocouple temperature can be used.
func (r Reading) Valid() bool {
	return !r.NoDevice && r.Faults == 0
}

// Err returns ErrNoDevice or the fault errors for the reading, nil if valid.
func (r Reading) Err() error {
	if r.NoDevice {
		return ErrNoDevice
	}
	return r.Faults.Err()
}

// Fahrenheit returns the thermocouple temperature in °F.
func (r Reading) Fahrenheit() float64 {
	return Fahrenheit(r.Thermocouple)
}

// Linearized returns the NIST corrected thermocouple temperature.
func (r Reading) Linearized() float64 {
	return Linearize(r.Internal, r.Thermocouple)
}

// Decode splits a raw 32-bit frame into its fields.
//
// A frame of all zeros is taken to mean that no device answered. A chip that
// really measured exactly 0°C on both sensors would produce the same bits, so
// this is a heuristic and not something the protocol guarantees.
func Decode(raw uint32) Reading {
	r := Reading{
		Thermocouple: math.NaN(),
		Internal:     math.NaN(),
	}
	if raw == 0 {
		r.NoDevice = true
		return r
	}
	r.Faults = Fault(raw & faultMask)
	r.FaultBit = raw&(1<<faultBit) != 0
	r.Reserved = raw&(1<<reservedBit) != 0
	r.Internal = internalCelsius(raw)
	if r.Faults == 0 {
		r.Thermocouple = thermocoupleCelsius(raw)
	}
	return r
}

// DecodeCelsius returns the thermocouple temperature of a raw frame, NaN on
// fault or an all-zero frame.
func DecodeCelsius(raw uint32) float64 {
	return Decode(raw).Thermocouple
}

// DecodeInternal returns the cold junction temperature of a raw frame, NaN
// for an all-zero frame. Fault bits do not affect it.
func DecodeInternal(raw uint32) float64 {
	return Decode(raw).Internal
}

func thermocoupleCelsius(raw uint32) float64 {
	v := field(raw, thermoShift, thermoBits)
	return float64(signExtend(v, thermoBits)) * thermoLSB
}

func internalCelsius(raw uint32) float64 {
	v := field(raw, internShift, internBits)
	return float64(signExtend(v, internBits)) * internalLSB
}

func field(raw uint32, shift, bits uint) uint32 {
	return (raw >> shift) & (1<<bits - 1)
}

// signExtend interprets the low bits of v as a two's complement number.
func signExtend(v uint32, bits uint) int32 {
	if v&(1<<(bits-1)) != 0 {
		v |= ^uint32(0) << bits
	}
	return int32(v)
}
