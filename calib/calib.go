// Package calib reads and writes the calibration file (spec §6):
// line-oriented text, '#'-prefixed comments, otherwise "key,value"
// pairs. A CRC-16 trailer line detects a truncated or corrupted write,
// and an fsnotify watch lets the Process Controller pick up an edited
// file without restarting — both are ambient concerns the teacher's
// go.mod names (snksoft/crc, fsnotify) that spec.md's distillation
// left for the calibration-file non-goal; SPEC_FULL §10.1/§12 bring
// them back in.
package calib

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// Keys recognized in the calibration file.
const (
	KeyTGSComp       = "tgs_comp"
	KeyCellH2_100ppm = "cell_h2_100ppm"
	KeyCellH2_50ppm  = "cell_h2_50ppm"
	KeyTGSH2_100ppm  = "tgs_h2_100ppm"
	KeyTGSH2_50ppm   = "tgs_h2_50ppm"
	KeyTGSCH4_100ppm = "tgs_ch4_100ppm"
	KeyTGSCH4_50ppm  = "tgs_ch4_50ppm"
)

var allKeys = []string{
	KeyTGSComp, KeyCellH2_100ppm, KeyCellH2_50ppm,
	KeyTGSH2_100ppm, KeyTGSH2_50ppm, KeyTGSCH4_100ppm, KeyTGSCH4_50ppm,
}

// Data holds the decoded calibration constants.
type Data struct {
	TGSComp       float64
	CellH2_100ppm float64
	CellH2_50ppm  float64
	TGSH2_100ppm  float64
	TGSH2_50ppm   float64
	TGSCH4_100ppm float64
	TGSCH4_50ppm  float64
}

func isKnownKey(key string) bool {
	for _, k := range allKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (d *Data) set(key string, val float64) {
	switch key {
	case KeyTGSComp:
		d.TGSComp = val
	case KeyCellH2_100ppm:
		d.CellH2_100ppm = val
	case KeyCellH2_50ppm:
		d.CellH2_50ppm = val
	case KeyTGSH2_100ppm:
		d.TGSH2_100ppm = val
	case KeyTGSH2_50ppm:
		d.TGSH2_50ppm = val
	case KeyTGSCH4_100ppm:
		d.TGSCH4_100ppm = val
	case KeyTGSCH4_50ppm:
		d.TGSCH4_50ppm = val
	}
}

var crcTable = crc.NewTable(crc.XMODEM)

func checksumOf(body string) uint64 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, []byte(body))
	return uint64(crcTable.CRC16(c))
}

// Parse decodes a calibration file's textual contents. A trailing
// "#crc16,<value>" comment line, if present, is verified against the
// checksum of everything preceding it.
func Parse(contents string) (Data, error) {
	var d Data
	var body strings.Builder
	var wantCRC uint64
	haveCRC := false

	scanner := bufio.NewScanner(strings.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if v, ok := strings.CutPrefix(trimmed, "#crc16,"); ok {
				n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
				if err == nil {
					wantCRC = n
					haveCRC = true
				}
				continue
			}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")

		parts := strings.SplitN(trimmed, ",", 2)
		if len(parts) != 2 {
			return Data{}, errors.Errorf("calib: malformed line %q", line)
		}
		key := strings.TrimSpace(parts[0])
		if !isKnownKey(key) {
			return Data{}, errors.Errorf("calib: unknown key %q", key)
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return Data{}, errors.Wrapf(err, "calib: bad value on line %q", line)
		}
		d.set(key, val)
	}
	if err := scanner.Err(); err != nil {
		return Data{}, errors.Wrap(err, "calib: scan")
	}
	if haveCRC && checksumOf(body.String()) != wantCRC {
		return Data{}, errors.New("calib: CRC mismatch, file may be truncated or corrupted")
	}
	return d, nil
}

// Render encodes Data back to the calibration file text format, with a
// timestamped header comment and a trailing CRC-16 line.
func Render(d Data) string {
	var body strings.Builder
	fmt.Fprintf(&body, "%s,%v\n", KeyTGSComp, d.TGSComp)
	fmt.Fprintf(&body, "%s,%v\n", KeyCellH2_100ppm, d.CellH2_100ppm)
	fmt.Fprintf(&body, "%s,%v\n", KeyCellH2_50ppm, d.CellH2_50ppm)
	fmt.Fprintf(&body, "%s,%v\n", KeyTGSH2_100ppm, d.TGSH2_100ppm)
	fmt.Fprintf(&body, "%s,%v\n", KeyTGSH2_50ppm, d.TGSH2_50ppm)
	fmt.Fprintf(&body, "%s,%v\n", KeyTGSCH4_100ppm, d.TGSCH4_100ppm)
	fmt.Fprintf(&body, "%s,%v\n", KeyTGSCH4_50ppm, d.TGSCH4_50ppm)

	var out strings.Builder
	fmt.Fprintf(&out, "# calibration data, written %s\n", nowStamp())
	out.WriteString(body.String())
	fmt.Fprintf(&out, "#crc16,%d\n", checksumOf(body.String()))
	return out.String()
}

// nowStamp is a seam so tests can substitute a fixed header without
// depending on wall-clock time.
var nowStamp = func() string { return time.Now().UTC().Format(time.RFC3339) }

// Load reads and parses the calibration file at path.
func Load(path string) (Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Data{}, errors.Wrap(err, "calib: read")
	}
	return Parse(string(b))
}

// Save persists d to path.
func Save(path string, d Data) error {
	return os.WriteFile(path, []byte(Render(d)), 0o644)
}

// Watcher holds the live, hot-reloaded calibration data plus an
// fsnotify watch on its backing file.
type Watcher struct {
	mu   sync.RWMutex
	data Data
	path string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and starts watching it for writes, matching
// the teacher's fsnotify dependency (carried as a direct file watch here
// rather than a directory watch, since there is exactly one file to
// track).
func NewWatcher(path string) (*Watcher, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "calib: fsnotify")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrap(err, "calib: watch")
	}
	w := &Watcher{data: d, path: path, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if d, err := Load(w.path); err == nil {
					w.mu.Lock()
					w.data = d
					w.mu.Unlock()
				}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Data returns the current calibration constants.
func (w *Watcher) Data() Data {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data
}

// SetTGSComp updates the in-memory value and persists it, so a
// subsequent fsnotify Write event (which this call itself triggers) just
// reloads the same value back.
func (w *Watcher) SetTGSComp(tgsComp float64) error {
	w.mu.Lock()
	w.data.TGSComp = tgsComp
	d := w.data
	w.mu.Unlock()
	return Save(w.path, d)
}

// Close stops the watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
