package control

import (
	"os"

	"github.com/go-yaml/yaml"
	"github.com/pkg/errors"
)

// ProcedureParams holds the syringe volumes/speeds for the linear
// Wash/Fill/Empty/Home procedures, loaded from a second, independently
// scoped YAML file (go-yaml/yaml, distinct from config's gopkg.in/yaml.v2
// topology file) per SPEC_FULL §11.
type ProcedureParams struct {
	FillPosition  int `yaml:"FillPosition"`
	FillSpeed     int `yaml:"FillSpeed"`
	EmptySpeed    int `yaml:"EmptySpeed"`
	WashFillSpeed int `yaml:"WashFillSpeed"`
	WashFillPos   int `yaml:"WashFillPos"`
}

// DefaultProcedureParams mirrors hmc_master.py's literal call-site
// constants: hid.goto(pos=50, speed=350) for wash, pos=arg.sample_size
// for fill (default speed 200), pos=0 for empty (speed 350).
func DefaultProcedureParams() ProcedureParams {
	return ProcedureParams{
		FillPosition:  50,
		FillSpeed:     200,
		EmptySpeed:    350,
		WashFillSpeed: 350,
		WashFillPos:   50,
	}
}

// LoadProcedureParams reads path, if given, layering it over
// DefaultProcedureParams.
func LoadProcedureParams(path string) (ProcedureParams, error) {
	p := DefaultProcedureParams()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "control: read procedure file")
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, errors.Wrap(err, "control: parse procedure file")
	}
	return p, nil
}
