package device

import "fmt"

// HeaderPin describes one position on the physical header. Pins are
// referred to either by the number printed on the board (Board) or, for
// GPIO-capable pins, by their BCM number.
type HeaderPin struct {
	Board     uint8
	BCM       int // -1 for power and ground pins
	Name      string
	Functions []Function
}

// GPIO reports whether this header position is a software-controllable pin.
func (hp HeaderPin) GPIO() bool {
	return hp.BCM >= 0
}

func (hp HeaderPin) String() string {
	if !hp.GPIO() {
		return fmt.Sprintf("pin %d (%s)", hp.Board, hp.Name)
	}
	return fmt.Sprintf("pin %d (%s, BCM %d)", hp.Board, hp.Name, hp.BCM)
}

var (
	gpioOnly = []Function{FuncGPIO}

	// Pi40Header is the 40-pin header shared by every Raspberry Pi model
	// since the B+. Alternate functions follow the BCM2835/2711 pin
	// multiplexing tables.
	Pi40Header = []HeaderPin{
		{Board: 1, BCM: -1, Name: "3V3"},
		{Board: 2, BCM: -1, Name: "5V"},
		{Board: 3, BCM: 2, Name: "GPIO2", Functions: []Function{FuncGPIO, FuncI2C}},
		{Board: 4, BCM: -1, Name: "5V"},
		{Board: 5, BCM: 3, Name: "GPIO3", Functions: []Function{FuncGPIO, FuncI2C}},
		{Board: 6, BCM: -1, Name: "GND"},
		{Board: 7, BCM: 4, Name: "GPIO4", Functions: []Function{FuncGPIO, FuncGPCLK}},
		{Board: 8, BCM: 14, Name: "GPIO14", Functions: []Function{FuncGPIO, FuncUART}},
		{Board: 9, BCM: -1, Name: "GND"},
		{Board: 10, BCM: 15, Name: "GPIO15", Functions: []Function{FuncGPIO, FuncUART}},
		{Board: 11, BCM: 17, Name: "GPIO17", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 12, BCM: 18, Name: "GPIO18", Functions: []Function{FuncGPIO, FuncPWM, FuncPCM, FuncSPI}},
		{Board: 13, BCM: 27, Name: "GPIO27", Functions: gpioOnly},
		{Board: 14, BCM: -1, Name: "GND"},
		{Board: 15, BCM: 22, Name: "GPIO22", Functions: gpioOnly},
		{Board: 16, BCM: 23, Name: "GPIO23", Functions: gpioOnly},
		{Board: 17, BCM: -1, Name: "3V3"},
		{Board: 18, BCM: 24, Name: "GPIO24", Functions: gpioOnly},
		{Board: 19, BCM: 10, Name: "GPIO10", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 20, BCM: -1, Name: "GND"},
		{Board: 21, BCM: 9, Name: "GPIO9", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 22, BCM: 25, Name: "GPIO25", Functions: gpioOnly},
		{Board: 23, BCM: 11, Name: "GPIO11", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 24, BCM: 8, Name: "GPIO8", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 25, BCM: -1, Name: "GND"},
		{Board: 26, BCM: 7, Name: "GPIO7", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 27, BCM: 0, Name: "GPIO0", Functions: []Function{FuncGPIO, FuncI2C}},
		{Board: 28, BCM: 1, Name: "GPIO1", Functions: []Function{FuncGPIO, FuncI2C}},
		{Board: 29, BCM: 5, Name: "GPIO5", Functions: []Function{FuncGPIO, FuncGPCLK}},
		{Board: 30, BCM: -1, Name: "GND"},
		{Board: 31, BCM: 6, Name: "GPIO6", Functions: []Function{FuncGPIO, FuncGPCLK}},
		{Board: 32, BCM: 12, Name: "GPIO12", Functions: []Function{FuncGPIO, FuncPWM}},
		{Board: 33, BCM: 13, Name: "GPIO13", Functions: []Function{FuncGPIO, FuncPWM}},
		{Board: 34, BCM: -1, Name: "GND"},
		{Board: 35, BCM: 19, Name: "GPIO19", Functions: []Function{FuncGPIO, FuncPWM, FuncPCM, FuncSPI}},
		{Board: 36, BCM: 16, Name: "GPIO16", Functions: []Function{FuncGPIO, FuncSPI}},
		{Board: 37, BCM: 26, Name: "GPIO26", Functions: gpioOnly},
		{Board: 38, BCM: 20, Name: "GPIO20", Functions: []Function{FuncGPIO, FuncPCM, FuncSPI}},
		{Board: 39, BCM: -1, Name: "GND"},
		{Board: 40, BCM: 21, Name: "GPIO21", Functions: []Function{FuncGPIO, FuncPCM, FuncSPI}},
	}
)

var pi40ByBCM = func() map[Pin]HeaderPin {
	m := make(map[Pin]HeaderPin)
	for _, hp := range Pi40Header {
		if hp.GPIO() {
			m[Pin(hp.BCM)] = hp
		}
	}
	return m
}()

// Lookup returns the header description for a BCM pin number.
func Lookup(p Pin) (HeaderPin, bool) {
	hp, ok := pi40ByBCM[p]
	return hp, ok
}

// Known reports whether the BCM number addresses a pin on the header.
func Known(p Pin) bool {
	_, ok := pi40ByBCM[p]
	return ok
}

// Supports reports whether a pin can be routed to the given function.
// Unknown pins support nothing.
func Supports(p Pin, fn Function) bool {
	hp, ok := pi40ByBCM[p]
	if !ok {
		return false
	}
	for _, f := range hp.Functions {
		if f == fn {
			return true
		}
	}
	return false
}

// DefaultConfig returns every GPIO-capable pin configured as a plain input
// with no pull, the state the SOC boots most pins into.
func DefaultConfig() Config {
	cfg := NewConfig()
	for _, hp := range Pi40Header {
		if hp.GPIO() {
			cfg.SetPin(Pin(hp.BCM), PinConfig{Direction: Input, Function: FuncGPIO, Pull: PullNone, Level: Low})
		}
	}
	return cfg
}
