package max31855

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// bitBang reads a frame by toggling CLK by hand and sampling MISO while CLK is
// low. The MAX31855 shifts out the next bit on the falling edge.
type bitBang struct {
	clk  gpio.PinOut
	cs   gpio.PinOut
	miso gpio.PinIn
	half time.Duration
}

func newBitBang(clk, cs gpio.PinOut, miso gpio.PinIn, half time.Duration) (*bitBang, error) {
	if err := cs.Out(gpio.High); err != nil {
		return nil, err
	}
	if err := clk.Out(gpio.Low); err != nil {
		return nil, err
	}
	if err := miso.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, err
	}
	return &bitBang{clk: clk, cs: cs, miso: miso, half: half}, nil
}

func (b *bitBang) ReadFrame() (v uint32, err error) {
	if err := b.cs.Out(gpio.Low); err != nil {
		return 0, err
	}
	defer func() {
		if err2 := b.cs.Out(gpio.High); err == nil {
			err = err2
		}
	}()
	time.Sleep(b.half)

	for i := 0; i < frameBitsLen; i++ {
		if err := b.clk.Out(gpio.Low); err != nil {
			return 0, err
		}
		time.Sleep(b.half)
		v <<= 1
		if b.miso.Read() == gpio.High {
			v |= 1
		}
		if err := b.clk.Out(gpio.High); err != nil {
			return 0, err
		}
		time.Sleep(b.half)
	}
	if err := b.clk.Out(gpio.Low); err != nil {
		return 0, err
	}
	return v, nil
}

func (b *bitBang) String() string {
	return fmt.Sprintf("bitbang(clk=%s,cs=%s,miso=%s)", b.clk, b.cs, b.miso)
}
