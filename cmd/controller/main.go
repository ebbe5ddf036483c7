// Command controller is the Process Controller CLI (spec §6): an
// ordinary Command/Data Service client that also owns the Actuator
// link and drives one of the state-machine procedures to completion.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmgualb/HMC-T1/actuator"
	"github.com/dmgualb/HMC-T1/calib"
	"github.com/dmgualb/HMC-T1/config"
	"github.com/dmgualb/HMC-T1/control"
	"github.com/dmgualb/HMC-T1/serialport"
)

const helpBlurb = `
Usage: controller [flags] <wash N | fill V | empty | home | breath-open | boot | exam>

Flags:
  -config PATH        controller topology YAML file
  -procedure PATH      wash/fill/empty procedure parameter YAML file
  -host HOST           Command/Data Service host (default from config)
  -cmd-port PORT       Command Service port
  -data-port PORT      Data Service port
  -h2-base-drift MV    H2 baseline drift limit, mV/min
  -ch4-base-drift MV   CH4 baseline drift limit, mV/min
  -verbose             verbose logging
  -quiet               suppress non-essential output

Exit status: 0 success, 1 fatal error, 2 usage error.
`

func fail2(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	fmt.Fprint(os.Stderr, helpBlurb)
	os.Exit(2)
}

func main() {
	cfgPath := flag.String("config", "", "controller topology YAML file")
	procPath := flag.String("procedure", "", "procedure parameter YAML file")
	host := flag.String("host", "", "Command/Data Service host")
	cmdPort := flag.Int("cmd-port", 0, "Command Service port")
	dataPort := flag.Int("data-port", 0, "Data Service port")
	h2Drift := flag.Float64("h2-base-drift", 0, "H2 baseline drift limit, mV/min")
	ch4Drift := flag.Float64("ch4-base-drift", 0, "CH4 baseline drift limit, mV/min")
	verbose := flag.Bool("verbose", false, "verbose logging")
	quiet := flag.Bool("quiet", false, "suppress non-essential output")
	flag.Usage = func() { fmt.Fprint(os.Stderr, helpBlurb) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fail2("controller: an operation is required")
	}

	cfg, err := config.LoadController(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *cmdPort != 0 {
		cfg.CmdPort = *cmdPort
	}
	if *dataPort != 0 {
		cfg.DataPort = *dataPort
	}
	if *h2Drift != 0 {
		cfg.H2BaseDrift = *h2Drift
	}
	if *ch4Drift != 0 {
		cfg.CH4BaseDrift = *ch4Drift
	}

	procFile := cfg.ProcedureFile
	if *procPath != "" {
		procFile = *procPath
	}
	proc, err := control.LoadProcedureParams(procFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: load procedure params: %v\n", err)
		os.Exit(1)
	}

	calibWatcher, err := calib.NewWatcher(cfg.CalibFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: load calibration file: %v\n", err)
		os.Exit(1)
	}
	defer calibWatcher.Close()

	readTimeout, err := time.ParseDuration(cfg.ActuatorLink.ReadTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: parse ActuatorLink.ReadTimeout: %v\n", err)
		os.Exit(1)
	}
	startDelay, err := time.ParseDuration(cfg.ActuatorLink.StartDelay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: parse ActuatorLink.StartDelay: %v\n", err)
		os.Exit(1)
	}
	port, err := serialport.Open(serialport.Config{
		Name:        cfg.ActuatorLink.Name,
		Baud:        cfg.ActuatorLink.Baud,
		ReadTimeout: readTimeout,
		StartDelay:  startDelay,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: open actuator link %s: %v\n", cfg.ActuatorLink.Name, err)
		os.Exit(1)
	}
	defer port.Close()
	act := actuator.New(port, actuator.Config{})

	ctl := control.New(cfg, act, proc, calibWatcher)
	defer ctl.Close()

	var op control.Operation
	rest := args[1:]
	switch args[0] {
	case "wash":
		op = control.OpWash
		if len(rest) != 1 {
			fail2("controller: wash requires a cycle count, e.g. \"wash 3\"")
		}
		n, perr := parseInt(rest[0])
		if perr != nil {
			fail2("controller: invalid wash cycle count %q", rest[0])
		}
		ctl.SetWashCycles(n)
	case "fill":
		op = control.OpFill
		if len(rest) != 1 {
			fail2("controller: fill requires a volume, e.g. \"fill 50\"")
		}
		v, perr := parseInt(rest[0])
		if perr != nil {
			fail2("controller: invalid fill volume %q", rest[0])
		}
		ctl.SetFillVolume(v)
	case "empty":
		op = control.OpEmpty
	case "home":
		op = control.OpHome
	case "breath-open":
		op = control.OpBreathOpen
	case "boot":
		op = control.OpBoot
	case "exam":
		op = control.OpExam
	default:
		fail2("controller: unknown operation %q", args[0])
	}

	if *verbose && *quiet {
		fail2("controller: -verbose and -quiet are mutually exclusive")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		if !*quiet {
			fmt.Fprintln(os.Stderr, "controller: signal received, aborting")
		}
		ctl.Abort()
	}()

	if err := ctl.Run(op); err != nil {
		control.Fail("controller: %v", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Println("controller: done")
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
