package max31855

// Frame layout, bit 0 is the LSB of the last byte clocked out.
const (
	thermoShift  = 18
	thermoBits   = 14
	reservedBit  = 17
	faultBit     = 16
	internShift  = 4
	internBits   = 12
	faultMask    = 0x7
	thermoLSB    = 0.25
	internalLSB  = 0.0625
	frameBytes   = 4
	frameBitsLen = 32
)

const (
	faultOpenCircuit uint32 = 0x01
	faultShortGND    uint32 = 0x02
	faultShortVCC    uint32 = 0x04
)

// Seebeck approximations in mV/°C. The first is the slope the chip uses for
// the hot junction, the second its cold junction compensation scale.
const (
	seebeckK    float64 = 0.041276
	seebeckCJ   float64 = 0.04073
	rangeLowMax float64 = 20.644
	rangeMax    float64 = 54.886
)

// NIST ITS-90 inverse coefficients for type K, E in mV.
var (
	// -200°C..0°C
	nistNeg = []float64{
		0.0,
		2.5173462e+01,
		-1.1662878e+00,
		-1.0833638e+00,
		-8.9773540e-01,
		-3.7342377e-01,
		-8.6632643e-02,
		-1.0450598e-02,
		-5.1920577e-04,
	}
	// 0°C..500°C
	nistLow = []float64{
		0.0,
		2.508355e+01,
		7.860106e-02,
		-2.503131e-01,
		8.315270e-02,
		-1.228034e-02,
		9.804036e-04,
		-4.413030e-05,
		1.057734e-06,
		-1.052755e-08,
	}
	// 500°C..1372°C
	nistHigh = []float64{
		-1.318058e+02,
		4.830222e+01,
		-1.646031e+00,
		5.464731e-02,
		-9.650715e-04,
		8.802193e-06,
		-3.110810e-08,
	}
)
