// Package max31855 reads the Maxim MAX31855K cold-junction compensated
// thermocouple-to-digital converter.
//
// The chip is read-only: every transaction clocks out a 32-bit frame holding
// the thermocouple temperature (0.25°C resolution), the internal cold junction
// temperature (0.0625°C resolution) and three fault bits. The chip compensates
// the cold junction linearly; Linearize applies the NIST type K polynomials on
// top of that.
//
// Datasheet: https://datasheets.maximintegrated.com/en/ds/MAX31855.pdf
package max31855

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// conversionTime is the worst case time the chip needs for a fresh sample.
const conversionTime = 100 * time.Millisecond

// FrameReader performs one complete transaction with the chip and returns the
// 32 bits in the order they were clocked out, first bit in the MSB.
type FrameReader interface {
	ReadFrame() (uint32, error)
}

// Opts holds various configuration options for the sensor
type Opts struct {
	// CSPin, when set, is driven by the driver instead of the SPI controller.
	// Only used by New.
	CSPin gpio.PinOut
	// HalfPeriod is the delay between clock edges for NewBitBang.
	HalfPeriod time.Duration
	// Linearize makes Sense report the NIST corrected temperature instead of
	// the chip's linear value.
	Linearize bool
}

func DefaultOptions() *Opts {
	return &Opts{
		HalfPeriod: time.Millisecond,
	}
}

// New connects to a MAX31855 on a hardware SPI port at 1MHz in mode 0.
func New(p spi.Port, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	mode := spi.Mode0
	if opts.CSPin != nil {
		mode |= spi.NoCS
		if err := opts.CSPin.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("max31855: %v", err)
		}
	}

	c, err := p.Connect(1*physic.MegaHertz, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("max31855: %v", err)
	}

	return NewFromReader(&spiReader{c: c, cs: opts.CSPin}, p.String(), opts), nil
}

// NewBitBang reads a MAX31855 by clocking the bits in through plain GPIO
// pins, with opts.HalfPeriod between clock edges.
func NewBitBang(clk, cs gpio.PinOut, miso gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	b, err := newBitBang(clk, cs, miso, opts.HalfPeriod)
	if err != nil {
		return nil, fmt.Errorf("max31855: %v", err)
	}
	return NewFromReader(b, b.String(), opts), nil
}

// NewFromReader returns a Dev reading frames from r.
func NewFromReader(r FrameReader, name string, opts *Opts) *Dev {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Dev{
		r:    r,
		opts: *opts,
		name: name,
	}
}

type Dev struct {
	r    FrameReader
	opts Opts
	name string

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (d *Dev) String() string {
	return fmt.Sprintf("max31855{%s}", d.name)
}

// Read fetches and decodes one frame.
func (d *Dev) Read() (Reading, error) {
	raw, err := d.readFrame()
	if err != nil {
		return Reading{}, err
	}
	return Decode(raw), nil
}

// ReadRaw returns the undecoded frame. Frames with a fault bit set and
// all-zero frames are returned as 0.
func (d *Dev) ReadRaw() (uint32, error) {
	raw, err := d.readFrame()
	if err != nil {
		return 0, err
	}
	if raw&faultMask != 0 {
		return 0, nil
	}
	return raw, nil
}

// ReadCelsius returns the thermocouple temperature, NaN on a sensor fault.
func (d *Dev) ReadCelsius() (float64, error) {
	r, err := d.Read()
	if err != nil {
		return 0, err
	}
	return r.Thermocouple, nil
}

// ReadInternal returns the cold junction temperature, NaN if no device
// answered.
func (d *Dev) ReadInternal() (float64, error) {
	r, err := d.Read()
	if err != nil {
		return 0, err
	}
	return r.Internal, nil
}

// ReadFahrenheit returns the thermocouple temperature in °F, NaN on a sensor
// fault.
func (d *Dev) ReadFahrenheit() (float64, error) {
	c, err := d.ReadCelsius()
	if err != nil {
		return 0, err
	}
	return Fahrenheit(c), nil
}

// ReadFaults returns the fault flags of a fresh frame.
func (d *Dev) ReadFaults() (Fault, error) {
	r, err := d.Read()
	if err != nil {
		return 0, err
	}
	return r.Faults, nil
}

// ReadLinearized returns the NIST corrected thermocouple temperature computed
// from a single frame, NaN on a sensor fault or out of range voltage.
func (d *Dev) ReadLinearized() (float64, error) {
	r, err := d.Read()
	if err != nil {
		return 0, err
	}
	return r.Linearized(), nil
}

func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}

	return d.sense(e)
}

// SenseContinuous returns measurements as °C on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
// The channel is closed on the first failed reading.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	sensing := make(chan physic.Env)
	stop := make(chan struct{})
	done := make(chan struct{})

	d.mu.Lock()
	oldStop, oldDone := d.stop, d.done
	d.stop, d.done = stop, done
	go func() {
		defer close(done)
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}()
	d.mu.Unlock()

	// Stop the run this call replaced.
	if oldStop != nil {
		close(oldStop)
		<-oldDone
	}
	return sensing, nil
}

// 14-bit thermocouple field, LSB = 0.25°C
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 4
}

// Halt stops the continuous sensing initiated by SenseContinuous(). The chip
// itself has nothing to stop.
func (d *Dev) Halt() error {
	// The sensing goroutine takes mu for each reading, so don't hold it while
	// waiting for the goroutine to exit.
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done

	return nil
}

func (d *Dev) sense(e *physic.Env) error {
	raw, err := d.r.ReadFrame()
	if err != nil {
		return d.wrap(err)
	}

	r := Decode(raw)
	if err := r.Err(); err != nil {
		return d.wrap(fmt.Errorf("fault detected (%#08x): %w", raw, err))
	}

	temp := r.Thermocouple
	if d.opts.Linearize {
		if temp, err = linearize(r.Internal, r.Thermocouple); err != nil {
			return d.wrap(err)
		}
	}
	e.Temperature = physic.Temperature(temp*1000)*physic.MilliCelsius + physic.ZeroCelsius
	return nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	// The chip won't have a new sample any sooner.
	if interval < conversionTime {
		interval = conversionTime
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		e := physic.Env{}
		d.mu.Lock()
		err := d.sense(&e)
		if err != nil {
			// Let Sense work again without an explicit Halt.
			if d.stop == stop {
				d.stop, d.done = nil, nil
			}
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (d *Dev) readFrame() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.r.ReadFrame()
	if err != nil {
		return 0, d.wrap(err)
	}
	return raw, nil
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

// spiReader reads a frame through a hardware SPI controller, optionally
// driving chip select itself.
type spiReader struct {
	c  spi.Conn
	cs gpio.PinOut
}

func (s *spiReader) ReadFrame() (uint32, error) {
	if s.cs != nil {
		if err := s.cs.Out(gpio.Low); err != nil {
			return 0, err
		}
	}
	var w, r [frameBytes]byte
	err := s.c.Tx(w[:], r[:])
	if s.cs != nil {
		if err2 := s.cs.Out(gpio.High); err == nil {
			err = err2
		}
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r[:]), nil
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
