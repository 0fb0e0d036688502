// Package device models the pin configuration of a single GPIO board: which
// pins are in use, what role each one plays, and the last known logic level.
package device

import (
	"fmt"
	"sort"
)

// Pin identifies a GPIO pin by its BCM ("Broadcom SOC channel") number,
// the number printed after "GPIO" on most pinout diagrams.
type Pin uint8

// Level describes the binary state of a GPIO pin: either LOW or HIGH.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Direction is the electrical role of a pin.
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// Pull selects the internal resistor applied to an input pin.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullUp:
		return "pull-up"
	case PullDown:
		return "pull-down"
	}
	return fmt.Sprintf("pull(%d)", uint8(p))
}

// Function is the peripheral block a pin is routed to. FuncGPIO is plain
// software-controlled input/output; the rest are alternate functions that
// only some pins support (see board.go).
type Function uint8

const (
	FuncGPIO Function = iota
	FuncI2C
	FuncSPI
	FuncUART
	FuncPWM
	FuncGPCLK
	FuncPCM
)

func (f Function) String() string {
	switch f {
	case FuncGPIO:
		return "gpio"
	case FuncI2C:
		return "i2c"
	case FuncSPI:
		return "spi"
	case FuncUART:
		return "uart"
	case FuncPWM:
		return "pwm"
	case FuncGPCLK:
		return "gpclk"
	case FuncPCM:
		return "pcm"
	}
	return fmt.Sprintf("function(%d)", uint8(f))
}

// PinConfig is the configured role of one pin. Level is authoritative for
// outputs and the last observed sample for inputs.
type PinConfig struct {
	Direction Direction
	Function  Function
	Pull      Pull
	Level     Level
}

// Validate checks the internal consistency of a pin config. Pull resistors
// only make sense on inputs; outputs must not carry one.
func (pc PinConfig) Validate() error {
	if pc.Direction == Output && pc.Pull != PullNone {
		return fmt.Errorf("pull %q is invalid for an output pin", pc.Pull)
	}
	if pc.Direction != Input && pc.Direction != Output {
		return fmt.Errorf("unknown direction %d", uint8(pc.Direction))
	}
	return nil
}

// Config maps pins to their configured roles for one board. The zero value
// is not usable; construct with NewConfig.
type Config struct {
	pins map[Pin]PinConfig
}

// NewConfig returns an empty device config.
func NewConfig() Config {
	return Config{pins: make(map[Pin]PinConfig)}
}

// Pin returns the config for a pin, and whether the pin is present.
func (c Config) Pin(p Pin) (PinConfig, bool) {
	pc, ok := c.pins[p]
	return pc, ok
}

// SetPin replaces the config of a single pin. Validation is the caller's
// responsibility; SetPin never leaves other pins touched.
func (c Config) SetPin(p Pin, pc PinConfig) {
	c.pins[p] = pc
}

// RemovePin drops a pin from the config.
func (c Config) RemovePin(p Pin) {
	delete(c.pins, p)
}

// Pins returns the configured pin numbers in ascending order.
func (c Config) Pins() []Pin {
	pins := make([]Pin, 0, len(c.pins))
	for p := range c.pins {
		pins = append(pins, p)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

// Len returns the number of configured pins.
func (c Config) Len() int {
	return len(c.pins)
}

// Clone returns an independent copy. Mutating the clone never affects the
// original, which is what makes copy-on-read snapshots safe to hand out.
func (c Config) Clone() Config {
	clone := Config{pins: make(map[Pin]PinConfig, len(c.pins))}
	for p, pc := range c.pins {
		clone.pins[p] = pc
	}
	return clone
}

// Equal reports whether two configs hold the same pins with the same roles.
func (c Config) Equal(other Config) bool {
	if len(c.pins) != len(other.pins) {
		return false
	}
	for p, pc := range c.pins {
		if opc, ok := other.pins[p]; !ok || opc != pc {
			return false
		}
	}
	return true
}
