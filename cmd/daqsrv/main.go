// Command daqsrv is the acquisition/multiplex server: it owns the DAQ
// serial link, runs the Command and Data services in front of it, and
// serves a read-only diag status page. Flag/signal handling follows the
// teacher's cmd/dacsrv shape: build the hardware, mount the HTTP
// surfaces, block on a terminate channel.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmgualb/HMC-T1/cmdservice"
	"github.com/dmgualb/HMC-T1/config"
	"github.com/dmgualb/HMC-T1/daqworker"
	"github.com/dmgualb/HMC-T1/dataservice"
	"github.com/dmgualb/HMC-T1/diag"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
	"github.com/dmgualb/HMC-T1/serialport"
)

func buildCatalog(specs []config.ChannelSpec) (*sensorcat.Catalog, error) {
	descs := make([]sensorcat.Descriptor, 0, len(specs))
	for _, s := range specs {
		d := sensorcat.Descriptor{
			Channel: s.Channel,
			Label:   s.Label,
			Unit:    s.Unit,
			Format:  s.Format,
		}
		switch s.Tag {
		case "", "raw":
			d.Tag = sensorcat.TagRaw
		case "thermistor":
			d.Tag = sensorcat.TagThermistor
			d.Thermistor = sensorcat.ThermistorParams{
				Beta: s.Params["Beta"],
				T0:   s.Params["T0"],
				V0:   s.Params["V0"],
			}
		case "rtd":
			d.Tag = sensorcat.TagRTD
			d.RTD = sensorcat.RTDParams{
				A:    s.Params["A"],
				B:    s.Params["B"],
				Vref: s.Params["Vref"],
				Ec:   s.Params["Ec"],
				Eo:   s.Params["Eo"],
			}
		case "o2linear":
			d.Tag = sensorcat.TagO2Linear
			d.O2 = sensorcat.O2Params{
				Offset:   s.Params["Offset"],
				Baseline: s.Params["Baseline"],
				RefO2:    s.Params["RefO2"],
			}
		default:
			return nil, fmt.Errorf("daqsrv: unknown channel tag %q for %q", s.Tag, s.Label)
		}
		descs = append(descs, d)
	}
	return sensorcat.New(descs)
}

// supervise drains the worker's Samples channel, appending each to the
// ring and fanning it out to the Data Service, until the worker exits.
func supervise(worker *daqworker.Worker, ring *ringbuf.Buffer, data *dataservice.Service, terminate func()) {
	for {
		select {
		case s, ok := <-worker.Samples:
			if !ok {
				return
			}
			sample, err := ring.Append(s.T, s.Values)
			if err != nil {
				log.Printf("daqsrv: ring append: %v", err)
				continue
			}
			data.Publish(sample)
		case msg, ok := <-worker.Messages:
			if !ok {
				return
			}
			log.Printf("daqsrv: worker: %s", msg)
			if msg == "EXIT" {
				terminate()
				return
			}
		case err := <-worker.Errors:
			log.Printf("daqsrv: worker error: %v", err)
		}
	}
}

func main() {
	cfgPath := flag.String("config", "", "path to the server topology YAML file")
	flag.Parse()

	cfg, err := config.LoadServer(*cfgPath)
	if err != nil {
		log.Fatalf("daqsrv: load config: %v", err)
	}

	catalog, err := buildCatalog(cfg.Channels)
	if err != nil {
		log.Fatalf("daqsrv: build catalog: %v", err)
	}

	readTimeout, err := time.ParseDuration(cfg.DAQLink.ReadTimeout)
	if err != nil {
		log.Fatalf("daqsrv: parse DAQLink.ReadTimeout: %v", err)
	}
	startDelay, err := time.ParseDuration(cfg.DAQLink.StartDelay)
	if err != nil {
		log.Fatalf("daqsrv: parse DAQLink.StartDelay: %v", err)
	}
	port, err := serialport.Open(serialport.Config{
		Name:        cfg.DAQLink.Name,
		Baud:        cfg.DAQLink.Baud,
		ReadTimeout: readTimeout,
		StartDelay:  startDelay,
	})
	if err != nil {
		log.Fatalf("daqsrv: open DAQ link %s: %v", cfg.DAQLink.Name, err)
	}

	channelIDs := make([]string, 0, catalog.Len())
	for _, d := range catalog.Descriptors() {
		channelIDs = append(channelIDs, d.Channel)
	}
	worker := daqworker.New(port, daqworker.Config{
		Channels:     channelIDs,
		NPLC:         cfg.NPLC,
		StatusPreset: "*STATUS:PRESET",
	})

	ring := ringbuf.New(cfg.BufferSecs, catalog.Len())
	data := dataservice.New(ring, catalog)

	terminate := make(chan struct{})
	once := func() func() {
		closed := false
		return func() {
			if !closed {
				closed = true
				close(terminate)
			}
		}
	}()

	cmds := cmdservice.New(ring, catalog, worker, cfg.MaxHandlers, once)

	go func() {
		if err := worker.Run(); err != nil {
			log.Printf("daqsrv: worker exited: %v", err)
			once()
		}
	}()
	go supervise(worker, ring, data, once)

	go func() {
		if err := cmds.ListenAndServe(cfg.CmdAddr); err != nil {
			log.Printf("daqsrv: command service: %v", err)
		}
	}()
	go func() {
		if err := data.ListenAndServe(cfg.DataAddr); err != nil {
			log.Printf("daqsrv: data service: %v", err)
		}
	}()

	diagSrv := diag.New(ring, data, catalog, time.Now())
	httpSrv := &http.Server{Addr: cfg.DiagAddr, Handler: diagSrv.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("daqsrv: diag server: %v", err)
		}
	}()

	log.Printf("daqsrv: command on %s, data on %s, diag on %s", cfg.CmdAddr, cfg.DataAddr, cfg.DiagAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("daqsrv: signal received, shutting down")
	case <-terminate:
		log.Println("daqsrv: :CMD:HMC:SHUTDOWN received, shutting down")
	}

	worker.Control <- "ABORT"
	_ = httpSrv.Close()
	os.Exit(0)
}
