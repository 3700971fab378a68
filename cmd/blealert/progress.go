package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/srg/blealert/internal/host"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the session state and elapsed time while the
// notifier starts.
//
//	p := NewProgressPrinter(os.Stderr, "Starting SleepyDrive", n.State)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	state     func() host.State
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{} // closed when goroutine exits
	started   atomic.Bool
}

// NewProgressPrinter creates a printer that polls state on every tick.
func NewProgressPrinter(out io.Writer, prefix string, state func() host.State) *ProgressPrinter {
	return &ProgressPrinter{out: out, prefix: prefix, state: state}
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.print(0)
	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

func (p *ProgressPrinter) print(seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.state(), seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.state())
	}
}

// Stop ends the display and clears the line. Only the first call has effect.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
}
