// Command pinctl is a small wire-protocol client for poking at a pind
// instance from a terminal.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/device"
	"github.com/pinwire/pinwire/wire"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: pinctl [-addr host:port] <command> [args]

commands:
  get <pin>                          print a pin's mirrored state
  set <pin> <high|low>               drive an output pin
  configure <pin> <dir> [pull]       reconfigure a pin (dir: input|output, pull: none|up|down)
  watch [pin ...]                    stream events (no pins means all)
`)
	os.Exit(2)
}

func main() {
	addr := flag.String("addr", "localhost"+wire.DefaultAddr, "pind session address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	client := &wire.Client{
		Logger: logger,
		Config: wire.ClientConfig{Addr: *addr, Identity: "pinctl"},
	}
	if err := client.Open(); err != nil {
		logger.Fatalf("open client: %s", err)
	}
	defer client.Close()

	var err error
	switch args[0] {
	case "get":
		err = get(client, args[1:])
	case "set":
		err = set(client, args[1:])
	case "configure":
		err = configure(client, args[1:])
	case "watch":
		err = watch(client, args[1:])
	default:
		usage()
	}

	if err != nil {
		logger.Fatal(err)
	}
}

func parsePin(arg string) (device.Pin, error) {
	n, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("pin must be a BCM number: %w", err)
	}
	return device.Pin(n), nil
}

func parseLevel(arg string) (device.Level, error) {
	switch arg {
	case "high", "1", "true":
		return device.High, nil
	case "low", "0", "false":
		return device.Low, nil
	}
	return device.Low, fmt.Errorf("level must be high or low, not %q", arg)
}

// get subscribes so the server's snapshot lands in the mirror, then reads
// the pin out of it.
func get(client *wire.Client, args []string) error {
	if len(args) != 1 {
		usage()
	}

	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}

	if err := client.Subscribe(pin); err != nil {
		return err
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		pc, err := client.Mirror.Pin(pin)
		if err == nil {
			level := "low"
			if bool(pc.Level) {
				level = "high"
			}
			fmt.Printf("pin %d: %s %s pull=%s %s\n", pin, pc.Direction, pc.Function, pc.Pull, level)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pin %d is not configured on %q", pin, client.Board())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func set(client *wire.Client, args []string) error {
	if len(args) != 2 {
		usage()
	}

	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}
	level, err := parseLevel(args[1])
	if err != nil {
		return err
	}

	if err := client.SetLevel(pin, level); err != nil {
		return err
	}

	return waitAck(client)
}

func configure(client *wire.Client, args []string) error {
	if len(args) != 2 && len(args) != 3 {
		usage()
	}

	pin, err := parsePin(args[0])
	if err != nil {
		return err
	}

	var dir device.Direction
	switch args[1] {
	case "input":
		dir = device.Input
	case "output":
		dir = device.Output
	default:
		return fmt.Errorf("direction must be input or output, not %q", args[1])
	}

	pull := device.PullNone
	if len(args) == 3 {
		switch args[2] {
		case "none":
			pull = device.PullNone
		case "up":
			pull = device.PullUp
		case "down":
			pull = device.PullDown
		default:
			return fmt.Errorf("pull must be none, up or down, not %q", args[2])
		}
	}

	if err := client.Configure(pin, dir, device.FuncGPIO, pull); err != nil {
		return err
	}

	return waitAck(client)
}

// waitAck gives the server a moment to report a failure; requests are
// otherwise fire-and-forget.
func waitAck(client *wire.Client) error {
	select {
	case remote := <-client.ServerErrors():
		return remote
	case <-time.After(300 * time.Millisecond):
		return nil
	}
}

func watch(client *wire.Client, args []string) error {
	pins := make([]device.Pin, 0, len(args))
	for _, arg := range args {
		pin, err := parsePin(arg)
		if err != nil {
			return err
		}
		pins = append(pins, pin)
	}

	if err := client.Subscribe(pins...); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "watching %s\n", client.Board())
	for ev := range client.Events() {
		level := "low"
		if bool(ev.Level) {
			level = "high"
		}
		fmt.Printf("%s pin %d -> %s (seq %d, %s)\n", time.Now().Format(time.RFC3339), ev.Pin, level, ev.Sequence, originLabel(ev))
	}

	return nil
}

func originLabel(ev wire.Event) string {
	if ev.Remote {
		return "remote " + ev.Origin
	}
	return "local"
}
