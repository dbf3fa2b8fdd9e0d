package max31855

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

var (
	frame250   = []byte{0x0F, 0xA0, 0x0A, 0x00} // 250°C, internal 10°C
	frameOpen  = []byte{0x0F, 0xA1, 0x0A, 0x01} // open circuit, internal 10°C
	frameEmpty = []byte{0x00, 0x00, 0x00, 0x00}
)

func playback(frames ...[]byte) *spitest.Playback {
	p := &spitest.Playback{Playback: conntest.Playback{DontPanic: true}}
	for _, f := range frames {
		p.Ops = append(p.Ops, conntest.IO{W: make([]byte, frameBytes), R: f})
	}
	return p
}

func newDev(t *testing.T, opts *Opts, frames ...[]byte) (*Dev, *spitest.Playback) {
	t.Helper()
	p := playback(frames...)
	d, err := New(p, opts)
	if err != nil {
		t.Fatal(err)
	}
	return d, p
}

func TestReadOperations(t *testing.T) {
	d, p := newDev(t, nil, frame250, frame250, frame250, frame250, frame250, frame250)

	if c, err := d.ReadCelsius(); err != nil || c != 250 {
		t.Errorf("ReadCelsius() = %v, %v", c, err)
	}
	if c, err := d.ReadInternal(); err != nil || c != 10 {
		t.Errorf("ReadInternal() = %v, %v", c, err)
	}
	if f, err := d.ReadFahrenheit(); err != nil || f != 482 {
		t.Errorf("ReadFahrenheit() = %v, %v", f, err)
	}
	if f, err := d.ReadFaults(); err != nil || f != 0 {
		t.Errorf("ReadFaults() = %v, %v", f, err)
	}
	if raw, err := d.ReadRaw(); err != nil || raw != 0x0FA00A00 {
		t.Errorf("ReadRaw() = %#x, %v", raw, err)
	}
	if c, err := d.ReadLinearized(); err != nil || math.Abs(c-253.93151486940624) > 1e-9 {
		t.Errorf("ReadLinearized() = %v, %v", c, err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadFault(t *testing.T) {
	d, _ := newDev(t, nil, frameOpen, frameOpen, frameOpen, frameOpen, frameOpen)

	if c, err := d.ReadCelsius(); err != nil || !math.IsNaN(c) {
		t.Errorf("ReadCelsius() = %v, %v", c, err)
	}
	if c, err := d.ReadInternal(); err != nil || c != 10 {
		t.Errorf("ReadInternal() = %v, %v", c, err)
	}
	if f, err := d.ReadFahrenheit(); err != nil || !math.IsNaN(f) {
		t.Errorf("ReadFahrenheit() = %v, %v", f, err)
	}
	if f, err := d.ReadFaults(); err != nil || f != OpenCircuit {
		t.Errorf("ReadFaults() = %v, %v", f, err)
	}
	if raw, err := d.ReadRaw(); err != nil || raw != 0 {
		t.Errorf("ReadRaw() = %#x, %v", raw, err)
	}
}

func TestReadNoDevice(t *testing.T) {
	d, _ := newDev(t, nil, frameEmpty, frameEmpty, frameEmpty)

	if c, err := d.ReadCelsius(); err != nil || !math.IsNaN(c) {
		t.Errorf("ReadCelsius() = %v, %v", c, err)
	}
	if c, err := d.ReadInternal(); err != nil || !math.IsNaN(c) {
		t.Errorf("ReadInternal() = %v, %v", c, err)
	}
	if raw, err := d.ReadRaw(); err != nil || raw != 0 {
		t.Errorf("ReadRaw() = %#x, %v", raw, err)
	}
}

func TestReadBusError(t *testing.T) {
	d, _ := newDev(t, nil)
	if _, err := d.ReadCelsius(); err == nil {
		t.Fatal("expected an error from an exhausted playback")
	}
	if _, err := d.ReadRaw(); err == nil {
		t.Fatal("expected an error from an exhausted playback")
	}
}

func TestChipSelectPin(t *testing.T) {
	cs := &gpiotest.Pin{N: "CS", Num: 8}
	d, p := newDev(t, &Opts{CSPin: cs}, frame250)
	if cs.L != gpio.High {
		t.Fatal("chip select not deasserted by New")
	}
	if c, err := d.ReadCelsius(); err != nil || c != 250 {
		t.Fatalf("ReadCelsius() = %v, %v", c, err)
	}
	if cs.L != gpio.High {
		t.Fatal("chip select left asserted")
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

// connectPort records the settings New connects with.
type connectPort struct {
	*spitest.Playback
	f    physic.Frequency
	mode spi.Mode
	bits int
}

func (p *connectPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.f, p.mode, p.bits = f, mode, bits
	return p.Playback.Connect(f, mode, bits)
}

func TestNewConnectSettings(t *testing.T) {
	tests := map[string]struct {
		opts *Opts
		mode spi.Mode
	}{
		"controller-cs": {nil, spi.Mode0},
		"gpio-cs":       {&Opts{CSPin: &gpiotest.Pin{N: "CS", Num: 8}}, spi.Mode0 | spi.NoCS},
	}
	for n, tc := range tests {
		p := &connectPort{Playback: playback(frame250)}
		d, err := New(p, tc.opts)
		if err != nil {
			t.Fatalf("%s: %v", n, err)
		}
		if p.f != 1*physic.MegaHertz || p.mode != tc.mode || p.bits != 8 {
			t.Errorf("%s: Connect(%v, %v, %d), want (%v, %v, 8)", n, p.f, p.mode, p.bits, 1*physic.MegaHertz, tc.mode)
		}
		if c, err := d.ReadCelsius(); err != nil || c != 250 {
			t.Errorf("%s: ReadCelsius() = %v, %v", n, c, err)
		}
	}
}

func TestSense(t *testing.T) {
	d, _ := newDev(t, nil, frame250)
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if c := e.Temperature.Celsius(); math.Abs(c-250) > 1e-6 {
		t.Fatalf("Sense() = %v°C", c)
	}
}

func TestSenseLinearized(t *testing.T) {
	d, _ := newDev(t, &Opts{Linearize: true}, frame250)
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if c := e.Temperature.Celsius(); math.Abs(c-253.9315) > 2e-3 {
		t.Fatalf("Sense() = %v°C", c)
	}
}

func TestSenseFaults(t *testing.T) {
	tests := map[string]struct {
		frame []byte
		want  error
	}{
		"open":      {frameOpen, ErrOpenCircuit},
		"no-device": {frameEmpty, ErrNoDevice},
		"gnd":       {[]byte{0, 0, 0x0A, 0x02}, ErrShortToGND},
		"vcc":       {[]byte{0, 0, 0x0A, 0x04}, ErrShortToVCC},
	}
	for n, tc := range tests {
		d, _ := newDev(t, nil, tc.frame)
		e := physic.Env{}
		if err := d.Sense(&e); !errors.Is(err, tc.want) {
			t.Errorf("%s: Sense() = %v, want %v", n, err, tc.want)
		}
	}
}

func TestSenseOutOfRange(t *testing.T) {
	// 2047.75°C, far beyond the type K tables.
	d, _ := newDev(t, &Opts{Linearize: true}, []byte{0x7F, 0xFC, 0x00, 0x10})
	e := physic.Env{}
	if err := d.Sense(&e); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Sense() = %v", err)
	}
}

func TestSenseContinuous(t *testing.T) {
	d, _ := newDev(t, nil, frame250, frame250)
	c, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Sense(&physic.Env{}); err == nil {
		t.Fatal("Sense() must fail while sensing continuously")
	}
	for i := 0; i < 2; i++ {
		e, ok := <-c
		if !ok {
			t.Fatalf("channel closed after %d readings", i)
		}
		if v := e.Temperature.Celsius(); math.Abs(v-250) > 1e-6 {
			t.Fatalf("reading %d = %v°C", i, v)
		}
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range c {
	}
}

func TestSenseContinuousConcurrent(t *testing.T) {
	d := NewFromReader(frameFunc(func() (uint32, error) { return 0x0FA00A00, nil }), "fake", nil)

	var callers, drains sync.WaitGroup
	for i := 0; i < 50; i++ {
		callers.Add(1)
		go func() {
			defer callers.Done()
			c, err := d.SenseContinuous(time.Millisecond)
			if err != nil {
				t.Error(err)
				return
			}
			drains.Add(1)
			go func() {
				defer drains.Done()
				for range c {
				}
			}()
		}()
	}
	callers.Wait()
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	// Every channel, superseded or not, must be closed by now.
	drains.Wait()
	if err := d.Sense(&physic.Env{}); err != nil {
		t.Fatal(err)
	}
}

func TestSenseAfterContinuousFailure(t *testing.T) {
	n := 0
	d := NewFromReader(frameFunc(func() (uint32, error) {
		n++
		if n == 2 {
			return 0, errors.New("bus stalled")
		}
		return 0x0FA00A00, nil
	}), "fake", nil)

	c, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	got := 0
	for range c {
		got++
	}
	if got != 1 {
		t.Fatalf("%d readings before the failure, want 1", got)
	}
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatalf("Sense() = %v", err)
	}
	if v := e.Temperature.Celsius(); math.Abs(v-250) > 1e-6 {
		t.Fatalf("Sense() = %v°C", v)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestPrecision(t *testing.T) {
	d := NewFromReader(frameFunc(func() (uint32, error) { return 0, nil }), "fake", nil)
	e := physic.Env{}
	d.Precision(&e)
	if e.Temperature != physic.Kelvin/4 {
		t.Fatalf("Precision() = %v", e.Temperature)
	}
	if d.String() != "max31855{fake}" {
		t.Fatalf("String() = %q", d.String())
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

type frameFunc func() (uint32, error)

func (f frameFunc) ReadFrame() (uint32, error) { return f() }

func TestNewFromReaderWrapsErrors(t *testing.T) {
	busErr := errors.New("bus stalled")
	d := NewFromReader(frameFunc(func() (uint32, error) { return 0, busErr }), "Fake", nil)
	_, err := d.Read()
	if !errors.Is(err, busErr) {
		t.Fatalf("Read() = %v", err)
	}
	if err.Error() != "fake: bus stalled" {
		t.Fatalf("Read() = %q", err.Error())
	}
}
