// Package armled drives an indicator LED on a GPIO line: lit while the
// vehicle is armed, dark otherwise. On the bench it is the one glance
// check that the stand is hot.
package armled

import (
	"context"
	"time"

	"github.com/JingyongXue/Firmware-MUDE/internal/bus"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// ledLine is the slice of the GPIO line the driver uses, split out so
// tests can observe writes.
type ledLine interface {
	SetValue(v int) error
	Close() error
}

// Driver owns one output line.
type Driver struct {
	line ledLine
}

// New requests the GPIO line for the given BCM pin as an output,
// initially dark.
func New(pin int) (*Driver, error) {
	line, err := openLineFn(pin)
	if err != nil {
		return nil, err
	}
	return &Driver{line: line}, nil
}

// Set lights or darkens the LED.
func (d *Driver) Set(armed bool) error {
	v := 0
	if armed {
		v = 1
	}
	return d.line.SetValue(v)
}

// Close darkens the LED and releases the line.
func (d *Driver) Close() error {
	if d == nil || d.line == nil {
		return nil
	}
	err := d.line.Close()
	d.line = nil
	return err
}

// Watch mirrors the armed flag from the mode topic onto the LED until
// ctx is canceled, then darkens it.
func (d *Driver) Watch(ctx context.Context, topic *bus.Topic[msg.ControlMode]) {
	sub := topic.Subscribe()
	armed := false
	for {
		if ctx.Err() != nil {
			_ = d.Set(false)
			return
		}
		if !sub.Wait(ctx, time.Second) {
			continue
		}
		mode, _ := sub.Poll()
		if mode.Armed != armed {
			armed = mode.Armed
			_ = d.Set(armed)
		}
	}
}
