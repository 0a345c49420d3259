package monitor

import (
	"github.com/sirupsen/logrus"
)

// Drain is the non-interactive consumer. It logs every state until the run
// ends and never wakes a suspended monitor. An Error has nobody to retry it,
// so its handle is released, which ends the run, and its cause is returned.
// states may be nil.
func Drain(events *Events, states *Latest[State], log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var failure error
	for state := range events.C() {
		if states != nil {
			states.Store(state)
		}

		entry := log.WithField("state", state.Kind().String())
		switch s := state.(type) {
		case Approving:
			entry.WithField("ip", s.IP.String()).Info("address is not active, approving")
		case Suspended:
			entry.WithField("suspend", s.Duration.String()).Info("address is active, suspending")
		case Error:
			entry.WithError(s.Cause).Error("monitor failed")
			failure = s.Cause
			s.Release()
		default:
			entry.Debug(state.String())
		}
	}
	return failure
}
