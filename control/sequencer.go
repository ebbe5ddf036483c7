package control

import "time"

// errAborted is returned by pollUntil when the abort signal fires before
// step reports done.
var errAborted = errorString("control: procedure aborted")

type errorString string

func (e errorString) Error() string { return string(e) }

// pollUntil repeatedly calls step at the given interval until it reports
// done, or abort fires. This is the same "tick on a sleep, short-circuit
// on a signal channel" loop fsm.Disturbance.Play uses for playback
// control, adapted here from pause/resume/stop to a single abort signal
// since the controller's polling loops only ever need to be cancelled,
// never paused.
func pollUntil(abort <-chan struct{}, interval time.Duration, step func() (bool, error)) error {
	for ; ; time.Sleep(interval) {
		select {
		case <-abort:
			return errAborted
		default:
		}
		done, err := step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
