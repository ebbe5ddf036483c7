// Package config loads the server/controller's static topology: built-in
// Go defaults layered with a YAML file layered with environment-variable
// overrides, in the style of the teacher's koanf-based
// structs.Provider/file.Provider/yaml.Parser chain — extended with
// koanf's env provider, which the teacher's go.mod names but never
// wires, to cover SPEC_FULL §10.1's "HMC_* env override" requirement.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix stripped from environment variables, e.g.
// HMC_CMD_PORT maps to the CmdPort field via its koanf tag.
const EnvPrefix = "HMC_"

// SerialLink describes one of the two owned serial links.
type SerialLink struct {
	Name        string `yaml:"Name" koanf:"name"`
	Baud        int    `yaml:"Baud" koanf:"baud"`
	ReadTimeout string `yaml:"ReadTimeout" koanf:"readtimeout"`
	StartDelay  string `yaml:"StartDelay" koanf:"startdelay"`
}

// ChannelSpec is one sensor catalog entry as declared in the topology
// file; Tag/params are resolved into a sensorcat.Descriptor by the
// caller, keeping this package free of a sensorcat import.
type ChannelSpec struct {
	Channel string             `yaml:"Channel" koanf:"channel"`
	Label   string             `yaml:"Label" koanf:"label"`
	Unit    string             `yaml:"Unit" koanf:"unit"`
	Format  string             `yaml:"Format" koanf:"format"`
	Tag     string             `yaml:"Tag" koanf:"tag"`
	Params  map[string]float64 `yaml:"Params" koanf:"params"`
}

// Server is the acquisition/multiplex server's configuration.
type Server struct {
	DAQLink     SerialLink    `yaml:"DAQLink" koanf:"daqlink"`
	CmdAddr     string        `yaml:"CmdAddr" koanf:"cmdaddr"`
	DataAddr    string        `yaml:"DataAddr" koanf:"dataaddr"`
	DiagAddr    string        `yaml:"DiagAddr" koanf:"diagaddr"`
	MaxHandlers int           `yaml:"MaxHandlers" koanf:"maxhandlers"`
	BufferSecs  float64       `yaml:"BufferSecs" koanf:"buffersecs"`
	NPLC        float64       `yaml:"NPLC" koanf:"nplc"`
	Channels    []ChannelSpec `yaml:"Channels" koanf:"channels"`
}

// DefaultServer mirrors daq_server.py's defaults(): nplc=5.0,
// bufsize=1200s, cmd_port=57000, data_port=58000, max_handlers=5.
func DefaultServer() Server {
	return Server{
		DAQLink:     SerialLink{Name: "/dev/ttyUSB0", Baud: 115200, ReadTimeout: "1s", StartDelay: "2s"},
		CmdAddr:     ":57000",
		DataAddr:    ":58000",
		DiagAddr:    ":58001",
		MaxHandlers: 5,
		BufferSecs:  1200.0,
		NPLC:        5.0,
	}
}

// LoadServer layers DefaultServer(), then path (if it exists), then
// HMC_-prefixed environment variables, and decodes into a Server.
func LoadServer(path string) (Server, error) {
	var cfg Server
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultServer(), "yaml"), nil); err != nil {
		return cfg, errors.Wrap(err, "config: defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, errors.Wrap(err, "config: load file")
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyMap), nil); err != nil {
		return cfg, errors.Wrap(err, "config: load env")
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// envKeyMap turns HMC_CMD_ADDR into "cmdaddr" to match the koanf tags
// above: strip the prefix, lowercase, drop underscores.
func envKeyMap(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", "")
}

// Controller is the Process Controller's configuration: it is a client
// of the server's Command/Data ports plus the owner of the Actuator
// link and drift/timing limits for the state machine.
type Controller struct {
	Host          string     `yaml:"Host" koanf:"host"`
	CmdPort       int        `yaml:"CmdPort" koanf:"cmdport"`
	DataPort      int        `yaml:"DataPort" koanf:"dataport"`
	ActuatorLink  SerialLink `yaml:"ActuatorLink" koanf:"actuatorlink"`
	H2BaseDrift   float64    `yaml:"H2BaseDrift" koanf:"h2basedrift"`
	CH4BaseDrift  float64    `yaml:"CH4BaseDrift" koanf:"ch4basedrift"`
	CalibFile     string     `yaml:"CalibFile" koanf:"calibfile"`
	ProcedureFile string     `yaml:"ProcedureFile" koanf:"procedurefile"`
}

// DefaultController mirrors daq_server.py's defaults(): host_addr
// 127.0.0.1, cmd_port 57000, data_port 58000.
func DefaultController() Controller {
	return Controller{
		Host:         "127.0.0.1",
		CmdPort:      57000,
		DataPort:     58000,
		ActuatorLink: SerialLink{Name: "/dev/ttyUSB1", Baud: 115200, ReadTimeout: "1s", StartDelay: "1s"},
		H2BaseDrift:  0.5,
		CH4BaseDrift: 0.5,
		CalibFile:    "calib.txt",
	}
}

// LoadController layers DefaultController(), path, then environment.
func LoadController(path string) (Controller, error) {
	var cfg Controller
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultController(), "yaml"), nil); err != nil {
		return cfg, errors.Wrap(err, "config: defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, errors.Wrap(err, "config: load file")
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyMap), nil); err != nil {
		return cfg, errors.Wrap(err, "config: load env")
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}
