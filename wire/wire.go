// Package wire formats sample records and channel name lists the same
// way on both TCP services (spec §6): a sample line is
// "<t>s,<v0><u0>,<v1><u1>,…" and a names line is "TIME,<label0>,<label1>,…".
// Keeping one formatter avoids the Command and Data services drifting
// apart on a detail like trailing-unit placement.
package wire

import (
	"fmt"
	"strings"

	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
)

// FormatSample renders one sample as a streaming/READ line, converting
// each raw channel reading through the catalog's descriptor.
func FormatSample(catalog *sensorcat.Catalog, s ringbuf.Sample) string {
	parts := make([]string, 0, len(s.Values)+1)
	parts = append(parts, fmt.Sprintf("%gs", s.T))
	for i, d := range catalog.Descriptors() {
		if i >= len(s.Values) {
			break
		}
		parts = append(parts, d.FormatValue(d.Convert(s.Values[i])))
	}
	return strings.Join(parts, ",")
}

// FormatNames renders the TIME,<label0>,<label1>,… header line.
func FormatNames(catalog *sensorcat.Catalog) string {
	return "TIME," + strings.Join(catalog.Labels(), ",")
}
