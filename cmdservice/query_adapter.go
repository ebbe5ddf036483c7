package cmdservice

import (
	"time"

	"github.com/dmgualb/HMC-T1/query"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
)

// waitPerUnitExcursion is the seconds-per-unit-excursion proportionality
// constant for :CMD:DROP's wait-after-move step.
const waitPerUnitExcursion = 0.01

func sleep(seconds float64) {
	if seconds <= 0 {
		return
	}
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}

func findTimeIndex(samples []ringbuf.Sample, t float64) int {
	return query.FindTimeIndex(samples, t)
}

func medianOverWindow(samples []ringbuf.Sample, channel, endIndex int, window float64) (float64, error) {
	return query.Median(samples, channel, endIndex, window)
}

func driftOf(samples []ringbuf.Sample, channel int, interval float64, desc sensorcat.Descriptor) (float64, error) {
	return query.Drift(samples, channel, interval, func(ch int, raw float64) float64 { return desc.Convert(raw) })
}

func peakOf(samples []ringbuf.Sample, channel int, t0, interval float64, desc sensorcat.Descriptor) (float64, float64, error) {
	return query.Peak(samples, channel, t0, interval, func(ch int, raw float64) float64 { return desc.Convert(raw) })
}
