// Package actuatorout streams actuator frames to a bench receiver over
// UDP, one compact JSON line per frame. The receiver is typically a
// plotting tool or a simulator ingesting the mixed outputs.
package actuatorout

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/JingyongXue/Firmware-MUDE/internal/bus"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// udpConn is the slice of *net.UDPConn the sink uses, split out so
// tests can capture writes.
type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Sink writes actuator frames to a fixed UDP destination.
type Sink struct {
	dest string
	conn udpConn

	sent  atomic.Uint64
	fails atomic.Uint64
}

// New dials the destination, which must be a host:port string.
func New(dest string) (*Sink, error) {
	return newSink(dest, net.ResolveUDPAddr,
		func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
			return net.DialUDP(network, laddr, raddr)
		})
}

func newSink(dest string, resolve resolveFunc, dial dialFunc) (*Sink, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Sink{dest: dest, conn: conn}, nil
}

// wireFrame is the on-wire shape of one actuator frame.
type wireFrame struct {
	TsUTC   string     `json:"ts_utc"`
	Control [8]float64 `json:"control"`
}

// Send encodes one frame as a JSON line and writes it.
func (s *Sink) Send(f msg.ActuatorControls) error {
	payload, err := json.Marshal(wireFrame{
		TsUTC:   f.Timestamp.UTC().Format(time.RFC3339Nano),
		Control: f.Control,
	})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	if _, err := s.conn.Write(payload); err != nil {
		s.fails.Add(1)
		return err
	}
	s.sent.Add(1)
	return nil
}

// Counts reports how many frames were written and how many writes
// failed.
func (s *Sink) Counts() (sent, fails uint64) {
	return s.sent.Load(), s.fails.Load()
}

// Close releases the socket.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Pump forwards every new actuator frame from the topic until ctx is
// canceled. Individual send errors are counted, not fatal; UDP output
// is fire and forget.
func (s *Sink) Pump(ctx context.Context, topic *bus.Topic[msg.ActuatorControls]) {
	sub := topic.Subscribe()
	for {
		if ctx.Err() != nil {
			return
		}
		if !sub.Wait(ctx, time.Second) {
			continue
		}
		f, _ := sub.Poll()
		_ = s.Send(f)
	}
}
