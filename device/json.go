package device

import (
	"encoding/json"
	"fmt"
)

// The JSON shape is a flat pin list keyed by BCM number, stable enough for
// hand editing:
//
//	{"pins":[{"bcm":17,"direction":"output","function":"gpio","pull":"none","level":true}]}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "input":
		*d = Input
	case "output":
		*d = Output
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

func (p Pull) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pull) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*p = PullNone
	case "pull-up":
		*p = PullUp
	case "pull-down":
		*p = PullDown
	default:
		return fmt.Errorf("unknown pull %q", text)
	}
	return nil
}

func (f Function) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Function) UnmarshalText(text []byte) error {
	switch string(text) {
	case "gpio":
		*f = FuncGPIO
	case "i2c":
		*f = FuncI2C
	case "spi":
		*f = FuncSPI
	case "uart":
		*f = FuncUART
	case "pwm":
		*f = FuncPWM
	case "gpclk":
		*f = FuncGPCLK
	case "pcm":
		*f = FuncPCM
	default:
		return fmt.Errorf("unknown function %q", text)
	}
	return nil
}

type pinJSON struct {
	BCM       Pin       `json:"bcm"`
	Direction Direction `json:"direction"`
	Function  Function  `json:"function"`
	Pull      Pull      `json:"pull"`
	Level     Level     `json:"level"`
}

type configJSON struct {
	Pins []pinJSON `json:"pins"`
}

// Load parses a device config document. Every pin is validated; a document
// with a duplicate or inconsistent pin is rejected as a whole.
func Load(data []byte) (Config, error) {
	var doc configJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("couldn't parse device config: %w", err)
	}

	cfg := NewConfig()
	for _, p := range doc.Pins {
		if _, ok := cfg.Pin(p.BCM); ok {
			return Config{}, fmt.Errorf("pin %d appears twice", p.BCM)
		}

		pc := PinConfig{Direction: p.Direction, Function: p.Function, Pull: p.Pull, Level: p.Level}
		if err := pc.Validate(); err != nil {
			return Config{}, fmt.Errorf("pin %d: %w", p.BCM, err)
		}

		cfg.SetPin(p.BCM, pc)
	}

	return cfg, nil
}

// Save serializes a device config for persistence by an external
// collaborator. Pins are emitted in ascending BCM order so output is
// deterministic and diff-friendly.
func Save(cfg Config) ([]byte, error) {
	doc := configJSON{Pins: make([]pinJSON, 0, cfg.Len())}
	for _, p := range cfg.Pins() {
		pc, _ := cfg.Pin(p)
		doc.Pins = append(doc.Pins, pinJSON{
			BCM:       p,
			Direction: pc.Direction,
			Function:  pc.Function,
			Pull:      pc.Pull,
			Level:     pc.Level,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("couldn't marshal device config: %w", err)
	}

	return data, nil
}
