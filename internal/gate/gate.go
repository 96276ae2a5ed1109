// Package gate is the facade over the physical gate and alarm actuator. The
// engine only ever hands the actuator a signal code; the hardware itself is
// an external collaborator.
package gate

import (
	"log/slog"
	"sync"
	"time"
)

// Signal is a single-byte code understood by the actuator.
type Signal byte

const (
	// SignalStop closes the gate and silences the alarm.
	SignalStop Signal = '0'
	// SignalOpen opens the gate.
	SignalOpen Signal = '1'
	// SignalStandardAlert raises the standard alarm.
	SignalStandardAlert Signal = '2'
	// SignalHighAlert raises the high priority alarm.
	SignalHighAlert Signal = '3'
	// SignalCriticalAlert raises the lockdown alarm.
	SignalCriticalAlert Signal = '4'
)

// String returns a readable name for log output.
func (s Signal) String() string {
	switch s {
	case SignalStop:
		return "stop"
	case SignalOpen:
		return "open"
	case SignalStandardAlert:
		return "standard-alert"
	case SignalHighAlert:
		return "high-alert"
	case SignalCriticalAlert:
		return "critical-alert"
	}
	return "unknown"
}

// Actuator accepts raw signal codes. Implementations wrap the physical
// device channel.
type Actuator interface {
	Signal(s Signal) error
}

// Controller drives timed pulses on an actuator: a signal followed by a stop
// after a fixed duration. Pulses run asynchronously so callers never block on
// hardware timing.
type Controller struct {
	actuator Actuator
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewController wraps an actuator.
func NewController(actuator Actuator, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		actuator: actuator,
		logger:   logger.With("service", "gate"),
	}
}

// Pulse sends a signal, waits for the duration and sends stop. It returns
// immediately; the stop is scheduled in the background.
func (c *Controller) Pulse(signal Signal, duration time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.actuator.Signal(signal); err != nil {
			c.logger.Error("actuator signal failed", "signal", signal.String(), "error", err)
			return
		}
		time.Sleep(duration)
		if err := c.actuator.Signal(SignalStop); err != nil {
			c.logger.Error("actuator stop failed", "signal", signal.String(), "error", err)
		}
	}()
}

// Wait blocks until all in-flight pulses have completed. Used by tests and
// shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// LogActuator is an Actuator that only logs the signals it receives. It is
// used when no hardware channel is configured.
type LogActuator struct {
	logger *slog.Logger
}

// NewLogActuator creates a logging actuator.
func NewLogActuator(logger *slog.Logger) *LogActuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActuator{logger: logger.With("service", "gate")}
}

// Signal logs the signal code.
func (a *LogActuator) Signal(s Signal) error {
	a.logger.Info("gate signal", "signal", s.String())
	return nil
}
