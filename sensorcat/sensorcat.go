// Package sensorcat holds the static sensor catalog: channel identity,
// display formatting, and the conversion tag/parameters that turn a raw
// ADC volts reading into a physical value. Descriptors are immutable
// after Catalog construction; iteration order is the declared order, per
// spec.
package sensorcat

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Tag selects which conversion formula a Descriptor's Params feed. This
// is the "dispatch on tag, not on type" table the Design Notes call for,
// grounded on the original Python Sensor_T10k/Sensor_PT100/Sensor_O2_*
// class hierarchy collapsed to data.
type Tag int

const (
	// TagRaw passes the ADC volts reading through unconverted.
	TagRaw Tag = iota
	// TagThermistor applies a Beta-equation NTC thermistor conversion.
	TagThermistor
	// TagRTD applies a quadratic Callendar-Van-Dusen RTD conversion.
	TagRTD
	// TagO2Linear applies a linear electrochemical-cell O2 conversion.
	TagO2Linear
)

// ThermistorParams parametrizes TagThermistor, grounded on the original
// Sensor_T10k.set_beta: Vadc = V0 * exp(Beta*(1/Tk - 1/T0)).
type ThermistorParams struct {
	Beta float64 // K
	T0   float64 // K, reference temperature
	V0   float64 // V, reading at T0
}

func (p ThermistorParams) vref() float64 {
	return p.V0 * math.Exp(-p.Beta/p.T0)
}

// Convert returns degrees Celsius for a given ADC volts reading.
func (p ThermistorParams) Convert(vadc float64) float64 {
	if vadc <= 0.0 {
		vadc = 1e-6 // saturate to avoid a log(0) domain error
	}
	return (p.Beta / math.Log(vadc/p.vref())) - 273.15
}

// RTDParams parametrizes TagRTD, grounded on the original Sensor_PT100:
// the quadratic Callendar-Van-Dusen polynomial solved for T and
// transposed into ADC volts, with circuit gain/offset error terms.
type RTDParams struct {
	A, B float64 // IEC 60751 PT-385: 3.9083e-3, -5.775e-7
	Vref float64 // ADC volts at 0 C
	Ec   float64 // calibrated gain correction
	Eo   float64 // calibrated offset error
}

// Convert returns degrees Celsius for a given ADC volts reading.
func (p RTDParams) Convert(vadc float64) float64 {
	vc := (vadc - p.Eo) * p.Ec
	disc := p.A*p.A - 4*p.B*(1.0-vc/p.Vref)
	return (-p.A + math.Sqrt(disc)) / (2 * p.B)
}

// O2Params parametrizes TagO2Linear, grounded on the original
// Sensor_O2_AO_03/Sensor_O2_Me2_O2: a straight-line fit through the
// measured offset and air baseline.
type O2Params struct {
	Offset   float64 // V, sensor shorted
	Baseline float64 // V, typical reading in air
	RefO2    float64 // % O2 in air, ~20.9
}

// Convert returns percent O2 for a given ADC volts reading.
func (p O2Params) Convert(vadc float64) float64 {
	return ((vadc - p.Offset) * p.RefO2) / (p.Baseline - p.Offset)
}

// Descriptor is an immutable sensor configuration record.
type Descriptor struct {
	// Channel is the wire channel id, e.g. "ch0".
	Channel string
	// Label is the human-facing identifier, e.g. "CH4", "H2", "PT100".
	Label string
	// Unit is the unit symbol used in formatted output: V, C, %, or "".
	Unit string
	// Format is a fmt verb, e.g. "%.3f".
	Format string

	Tag Tag

	Thermistor ThermistorParams
	RTD        RTDParams
	O2         O2Params
}

// Convert turns a raw ADC volts reading into the sensor's physical value,
// dispatching on Tag.
func (d Descriptor) Convert(vadc float64) float64 {
	switch d.Tag {
	case TagThermistor:
		return d.Thermistor.Convert(vadc)
	case TagRTD:
		return d.RTD.Convert(vadc)
	case TagO2Linear:
		return d.O2.Convert(vadc)
	default:
		return vadc
	}
}

// FormatValue renders a converted value per the sensor's format template
// followed by its unit symbol, e.g. "21.003C".
func (d Descriptor) FormatValue(converted float64) string {
	return fmt.Sprintf(d.Format, converted) + d.Unit
}

// Catalog is the fixed, ordered set of sensor descriptors declared at
// startup. It never mutates after New.
type Catalog struct {
	order []Descriptor
	byLbl map[string]int
}

// New builds a Catalog from an ordered slice of descriptors. Duplicate
// labels are rejected.
func New(descs []Descriptor) (*Catalog, error) {
	c := &Catalog{
		order: append([]Descriptor(nil), descs...),
		byLbl: make(map[string]int, len(descs)),
	}
	for i, d := range c.order {
		if _, ok := c.byLbl[d.Label]; ok {
			return nil, errors.Errorf("sensorcat: duplicate label %q", d.Label)
		}
		c.byLbl[d.Label] = i
	}
	return c, nil
}

// Len returns the number of channels in the catalog.
func (c *Catalog) Len() int { return len(c.order) }

// Descriptors returns the catalog in declared order. The returned slice
// must not be mutated by the caller.
func (c *Catalog) Descriptors() []Descriptor { return c.order }

// ByLabel resolves a sensor's declared label to its channel index and
// descriptor. Only the canonical declared label is accepted — no legacy
// aliasing, per spec §9 open question 2.
func (c *Catalog) ByLabel(label string) (int, Descriptor, bool) {
	idx, ok := c.byLbl[label]
	if !ok {
		return 0, Descriptor{}, false
	}
	return idx, c.order[idx], true
}

// Labels returns the declared labels in catalog order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.order))
	for i, d := range c.order {
		out[i] = d.Label
	}
	return out
}
