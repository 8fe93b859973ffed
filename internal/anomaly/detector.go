package anomaly

import (
	"fmt"
)

// Detector flags power readings that spike far above a device's recent
// rolling average.
type Detector struct {
	spikeThreshold float64
	minSamples     int
}

// New creates a detector. spikeThreshold is the multiple of the rolling
// average a reading must exceed to count as a spike; minSamples is the
// amount of history required before detection kicks in.
func New(spikeThreshold float64, minSamples int) *Detector {
	return &Detector{
		spikeThreshold: spikeThreshold,
		minSamples:     minSamples,
	}
}

// Check reports whether power spikes above the rolling average of the
// device's recent persisted values. With too little history, or when the
// device has been idle (zero average), it reports no spike.
func (d *Detector) Check(power float64, recent []float64) (bool, string) {
	if len(recent) < d.minSamples {
		return false, ""
	}

	sum := 0.0
	for _, v := range recent {
		sum += v
	}
	average := sum / float64(len(recent))

	if average > 0 && power > d.spikeThreshold*average {
		return true, fmt.Sprintf("power draw %.2fW exceeds %.1fx rolling average %.2fW",
			power, d.spikeThreshold, average)
	}

	return false, ""
}
