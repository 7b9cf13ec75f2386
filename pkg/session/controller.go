package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/stopwatch"
	"github.com/google/uuid"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
)

// Controller owns the accumulator for at most one in-flight measurement and
// drives the session state machine from the analyzer's event stream. All
// event delivery is serialized through HandleEvent; the controller is the
// sole owner of the session state.
type Controller struct {
	mu    sync.Mutex
	state State
	timer *stopwatch.Stopwatch

	device   analyzer.Analyzer
	deviceID string

	completionHandler func(m analyzer.Measurement)
	completionChan    chan analyzer.Measurement
	failureHandler    func(err error)

	logger analyzer.Logger
}

// New instantiates a new session controller bound to the given analyzer,
// executing functional options, if any
func New(device analyzer.Analyzer, options ...func(*Controller)) *Controller {
	c := &Controller{
		device: device,
		logger: &analyzer.NullLogger{},
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// WithLogger sets the logger used by the controller
func WithLogger(logger analyzer.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithDeviceID sets the device identifier stamped onto finished measurements
func WithDeviceID(deviceID string) func(*Controller) {
	return func(c *Controller) {
		c.deviceID = deviceID
	}
}

// SetDeviceID updates the device identifier stamped onto finished
// measurements (typically after a successful connect)
func (c *Controller) SetDeviceID(deviceID string) {
	c.mu.Lock()
	c.deviceID = deviceID
	c.mu.Unlock()
}

// SetCompletionHandler defines a handler function that is called with every
// finished measurement
func (c *Controller) SetCompletionHandler(fn func(m analyzer.Measurement)) {
	c.completionHandler = fn
}

// SetCompletionChannel defines a channel finished measurements are published
// to
func (c *Controller) SetCompletionChannel(ch chan analyzer.Measurement) {
	c.completionChan = ch
}

// SetFailureHandler defines a handler function that is called when a
// measurement attempt ends without a record (busy, failed or aborted)
func (c *Controller) SetFailureHandler(fn func(err error)) {
	c.failureHandler = fn
}

// Measuring reports whether a measurement is currently in flight
func (c *Controller) Measuring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase == PhaseMeasuring
}

// Start clears any previous accumulator and sends the start-measurement
// command for the requested coffee type
func (c *Controller) Start(coffeeType analyzer.CoffeeType) error {
	c.mu.Lock()
	if c.state.Phase == PhaseMeasuring {
		c.mu.Unlock()
		return analyzer.ErrBusy
	}
	c.state = Begin(coffeeType)
	if c.timer == nil {
		c.timer = stopwatch.Start(0)
	} else {
		c.timer.Reset()
		c.timer.Start(0)
	}
	c.mu.Unlock()

	if err := c.device.StartMeasurement(coffeeType); err != nil {
		c.mu.Lock()
		c.state = State{}
		c.mu.Unlock()
		return fmt.Errorf("failed to send start-measurement command: %w", err)
	}

	c.logger.Debugf("measurement started (coffee type `%s`)", coffeeType)
	return nil
}

// HandleEvent feeds one parsed device event into the state machine. Wire it
// to the analyzer via SetEventHandler (or drain an event channel into it).
func (c *Controller) HandleEvent(ev protocol.Event) {
	c.mu.Lock()
	next, outcome := Step(c.state, ev)
	c.state = next

	switch outcome {
	case OutcomeNone:
		c.mu.Unlock()
		return

	case OutcomeBusy:
		c.mu.Unlock()
		c.logger.Warnf("device busy, measurement not started")
		c.fail(analyzer.ErrBusy)

	case OutcomeFailed:
		c.mu.Unlock()
		c.logger.Warnf("device reported measurement failure")
		c.fail(fmt.Errorf("device reported measurement failure"))

	case OutcomeCompleted:
		record := c.freeze()
		c.state = State{}
		c.mu.Unlock()
		c.logger.Debugf("measurement `%s` complete after %v", record.ID, record.Duration)
		c.complete(record)
	}
}

// Abort discards the in-flight accumulator without producing a record. It is
// invoked on disconnect, which is the only cancellation mechanism the device
// protocol offers.
func (c *Controller) Abort(reason error) {
	c.mu.Lock()
	active := c.state.Phase == PhaseMeasuring
	c.state = State{}
	c.mu.Unlock()

	if !active {
		return
	}

	c.logger.Warnf("measurement aborted: %v", reason)
	c.fail(fmt.Errorf("measurement aborted: %w", reason))
}

// freeze promotes the accumulator into a finished measurement record. The
// caller must hold c.mu.
func (c *Controller) freeze() analyzer.Measurement {
	record := c.state.Partial
	record.ID = uuid.NewString()
	record.DeviceID = c.deviceID
	record.TakenAt = time.Now()
	if c.timer != nil {
		record.Duration = c.timer.ElapsedTime()
		c.timer.Stop()
	}

	return record
}

func (c *Controller) complete(record analyzer.Measurement) {
	if c.completionHandler != nil {
		c.completionHandler(record)
	}
	if c.completionChan != nil {
		select {
		case c.completionChan <- record:
		default:
		}
	}
}

func (c *Controller) fail(err error) {
	if c.failureHandler != nil {
		c.failureHandler(err)
	}
}
