package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ProgressPrinter shows a phase name with elapsed or remaining seconds on a
// single terminal line. It is single-use; Stop must be called to release the
// update goroutine. On a non-terminal writer it prints nothing.
//
//	p := NewCountdownProgressPrinter(w, "Scanning", "scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value // string
	countUp  bool
	duration time.Duration

	started  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a progress printer that shows elapsed time.
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{w: w, prefix: prefix, countUp: true}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down from
// duration. A zero duration counts up instead.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := NewProgressPrinter(w, prefix, phase)
	if duration > 0 {
		p.countUp = false
		p.duration = duration
	}
	return p
}

// SetPhase changes the phase shown on the next update. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Start begins the updates. Panics if called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !isTerminal(p.w) {
		p.stopped.Store(true)
		return
	}

	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	startTime := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.print(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				elapsed := time.Since(startTime)
				seconds := int(elapsed.Seconds())
				if !p.countUp {
					seconds = 0
					if remaining := p.duration - elapsed; remaining > 0 {
						// round to the nearest second
						seconds = int(remaining.Seconds() + 0.5)
					}
				}
				p.print(p.phase.Load().(string), seconds)
			}
		}
	}()
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	prefix := color.New(color.FgCyan).Sprint(p.prefix)
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", prefix, phase)
	}
}

// Stop ends the updates and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	if p.stopChan == nil {
		return
	}
	close(p.stopChan)
	<-p.done
	fmt.Fprint(p.w, clearLineSequence)
}
