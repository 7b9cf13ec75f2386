// Package session implements the measurement session state machine: it folds
// the analyzer's detection event stream into a measurement record and decides
// when the multi-step sequence is complete.
package session

import (
	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
)

// Phase denotes the session phase
type Phase int

const (

	// PhaseIdle is active while no measurement is in flight
	PhaseIdle Phase = iota

	// PhaseMeasuring is active from the start command until completion or
	// abort
	PhaseMeasuring
)

// Outcome classifies the effect of a single transition
type Outcome int

const (

	// OutcomeNone means the event merged (or was ignored) without ending the
	// session
	OutcomeNone Outcome = iota

	// OutcomeCompleted means the accumulated fields form a finished
	// measurement
	OutcomeCompleted

	// OutcomeBusy means the device rejected the start command
	OutcomeBusy

	// OutcomeFailed means the device could not start the measurement
	OutcomeFailed
)

// State is the immutable session state threaded through Step. It is replaced
// wholesale on every transition; the embedded partial measurement is only
// ever copied, never mutated in place.
type State struct {
	Phase Phase

	// AwaitingWaterActivity is set once the bean type result announces a
	// water activity sub-step; while set, an Agtron result does not complete
	// the session.
	AwaitingWaterActivity bool

	Partial analyzer.Measurement
}

// Begin returns the state for a freshly started measurement, discarding any
// previous accumulator.
func Begin(coffeeType analyzer.CoffeeType) State {
	return State{
		Phase:   PhaseMeasuring,
		Partial: analyzer.Measurement{CoffeeType: coffeeType},
	}
}

// Step applies one device event to the session state. Events outside an
// active measurement (and device info events at any time) leave the state
// untouched.
func Step(s State, ev protocol.Event) (State, Outcome) {
	if s.Phase != PhaseMeasuring {
		return s, OutcomeNone
	}

	switch ev := ev.(type) {
	case protocol.MeasurementStarted:
		return s, OutcomeNone

	case protocol.MeasurementBusy:
		return State{}, OutcomeBusy

	case protocol.MeasurementFailed:
		return State{}, OutcomeFailed

	case protocol.BeanType:
		next := s
		next.AwaitingWaterActivity = ev.DetectWaterActivity
		next.Partial.BeanType = ptr(ev.BeanTypeResult.BeanType)
		return next, OutcomeNone

	case protocol.MoistureDensity:
		next := s
		next.Partial.Moisture = ptr(ev.Moisture)
		next.Partial.Density = ptr(ev.Density)
		next.Partial.BulkDensity = ptr(ev.BulkDensity)
		next.Partial.Weight = ptr(ev.Weight)
		next.Partial.ScreenSize = ptr(ev.ScreenSize)
		next.Partial.MirrorTemp = ptr(ev.MirrorTemp)
		next.Partial.BeanTemp = ptr(ev.BeanTemp)
		return next, OutcomeNone

	case protocol.Environment:
		next := s
		next.Partial.EnvTemperature = ptr(ev.Temperature)
		next.Partial.EnvHumidity = ptr(ev.Humidity)
		next.Partial.EnvPressure = ptr(ev.Pressure)
		next.Partial.EnvAltitude = ptr(ev.Altitude)
		return next, OutcomeNone

	case protocol.WaterActivityStart:
		// Some firmware sequences emit the marker before the actual result
		next := s
		next.AwaitingWaterActivity = true
		return next, OutcomeNone

	case protocol.WaterActivity:
		next := s
		next.Partial.WaterActivity = ptr(ev.WaterActivity)
		next.Partial.SampleTemp = ptr(ev.SampleTemp)
		next.AwaitingWaterActivity = false
		return next, OutcomeCompleted

	case protocol.Agtron:
		next := s
		next.Partial.Agtron = ptr(ev.Agtron)
		next.Partial.Variance = ptr(ev.Variance)
		next.Partial.RoastStandard = ptr(ev.RoastStandard)
		next.Partial.BarHistogram = histogram(ev.BarHistogram[:])
		next.Partial.PieHistogram = histogram(ev.PieHistogram[:])

		// Agtron is the last step unless a water activity sub-step is still
		// outstanding; the device does not guarantee ordering beyond
		// "whichever applies completes last".
		if next.AwaitingWaterActivity {
			return next, OutcomeNone
		}
		return next, OutcomeCompleted
	}

	return s, OutcomeNone
}

func ptr[T any](v T) *T {
	return &v
}

func histogram(values []uint16) []uint16 {
	out := make([]uint16, len(values))
	copy(out, values)
	return out
}
