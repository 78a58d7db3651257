package tally

import (
	"sync"

	"github.com/cjeanneret/ScoutGo/internal/hw/gpio"
)

// Light is a tally LED on a GPIO pin. It is lit while the capture session
// is configured and running, so the crew can see the rig is live.
type Light struct {
	mu  sync.Mutex
	drv gpio.Driver
	pin int
	on  bool
}

// New configures pin as an output and turns the light off.
// A pin <= 0 returns a light that does nothing.
func New(drv gpio.Driver, pin int) *Light {
	l := &Light{drv: drv, pin: pin}
	if l.enabled() {
		_ = drv.SetupPin(pin, gpio.Output)
		_ = drv.WritePin(pin, gpio.Low)
	}
	return l
}

// Set turns the light on or off. Repeated values are not rewritten.
func (l *Light) Set(on bool) error {
	if !l.enabled() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on == on {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := l.drv.WritePin(l.pin, level); err != nil {
		return err
	}
	l.on = on
	return nil
}

// On reports the last state written.
func (l *Light) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *Light) enabled() bool {
	return l != nil && l.drv != nil && l.pin > 0
}
