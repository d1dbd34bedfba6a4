// Package gpiorelay is the GPIO variant of the relay driver (C6),
// grounded on gpio_hvac.c's libgpiod-based wire control: each HVAC wire
// is bound to one output-configured GPIO line, and driving a wire is a
// single digital write. periph.io/x/conn/v3/gpio and
// periph.io/x/host/v3 stand in for libgpiod/gpiod_line_set_value.
package gpiorelay

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/relay"
)

// HVACWireConfig pairs a wire identifier with the pin name periph's
// gpioreg registry knows it by (e.g. "GPIO17").
type HVACWireConfig struct {
	Wire    busproto.HVACWire
	PinName string
}

// Bind opens the host's GPIO registry and configures one output pin per
// entry in wires, binding each to ctrl as a relay.Line. It mirrors
// gpio_hvac_obj's setup: gpiod_chip_open + gpiod_line_request_output per
// configured wire, with unconfigured wires left with no Line (Set then
// fails with relay.ErrDriverUnavailable, matching the original silently
// ignoring a NULL gpioline).
func Bind(ctrl *relay.Controller, wires []HVACWireConfig) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpiorelay: initialising host drivers: %w", err)
	}
	for _, w := range wires {
		pin := gpioreg.ByName(w.PinName)
		if pin == nil {
			return fmt.Errorf("gpiorelay: no such GPIO pin %q for wire %s", w.PinName, w.Wire)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return fmt.Errorf("gpiorelay: configuring %s (wire %s) as output: %w", w.PinName, w.Wire, err)
		}
		ctrl.BindLine(w.Wire, &pinLine{pin: pin})
	}
	return nil
}

// pinLine adapts a periph gpio.PinIO to relay.Line.
type pinLine struct {
	pin gpio.PinIO
}

func (p *pinLine) Set(connect bool) error {
	level := gpio.Low
	if connect {
		level = gpio.High
	}
	return p.pin.Out(level)
}
