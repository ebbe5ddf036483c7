package control

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/theckman/yacspin"
)

// announce prints a colorized state-transition banner, the operator
// console's use of the teacher's fatih/color dependency.
func announce(state string) {
	color.New(color.FgCyan, color.Bold).Printf("==> %s\n", state)
}

func ok(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}

func warn(format string, args ...interface{}) {
	color.New(color.FgYellow).Printf(format+"\n", args...)
}

// Fail prints a terminal-error banner, for use by callers outside this
// package reporting a Run failure (cmd/controller's top-level error path).
func Fail(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, format+"\n", args...)
}

// waitSpinner starts a spinner with the given message, for the duration
// of a polled wait (TEMP_STABILIZING, WAIT_BASELINES). The caller stops
// it once the poll loop exits.
func waitSpinner(message string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         []string{"|", "/", "-", "\\"},
		Suffix:          " " + message,
		SuffixAutoColon: false,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := spinner.Start(); err != nil {
		return nil, err
	}
	return spinner, nil
}

// statusRow is one line of the fixed-width status table shown while
// polling WAIT_BASELINES.
type statusRow struct {
	Label string
	Value string
}

// printStatusTable renders rows as aligned "Label: Value" columns, using
// go-runewidth to measure display width rather than byte/rune count, so
// alignment holds even if a label carries a non-ASCII unit symbol.
func printStatusTable(rows []statusRow) string {
	width := 0
	for _, r := range rows {
		if w := runewidth.StringWidth(r.Label); w > width {
			width = w
		}
	}
	var b strings.Builder
	for _, r := range rows {
		pad := width - runewidth.StringWidth(r.Label)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(&b, "%s%s: %s\n", r.Label, strings.Repeat(" ", pad), r.Value)
	}
	return b.String()
}

// waitEnter blocks until the operator presses ENTER on stdin or abort
// fires, mirroring hmc_master.py's input("Press ENTER to start exam:>")
// gate between WAIT_BASELINES and EXAM_START.
func waitEnter(abort <-chan struct{}, prompt string) error {
	fmt.Print(prompt)
	line := make(chan struct{}, 1)
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		line <- struct{}{}
	}()
	select {
	case <-abort:
		return errAborted
	case <-line:
		return nil
	}
}
