package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	fastcounter "github.com/next-exp/fastcounter_go/pkg"
	"golang.org/x/term"
)

// clearLine is written before every log line when stdout is a terminal so
// log output replaces the status line instead of following it.
var clearLine string

type statusLine struct {
	out   io.Writer
	mu    *sync.Mutex
	fd    int
	tty   bool
	shown bool
}

func newStatusLine(f *os.File, mu *sync.Mutex) *statusLine {
	fd := int(f.Fd())
	s := &statusLine{out: f, mu: mu, fd: fd, tty: term.IsTerminal(fd)}
	if s.tty {
		clearLine = "\r\033[K"
	}
	return s
}

func formatStatus(id string, state fastcounter.State, info fastcounter.TraceInfo, stats fastcounter.StatsSnapshot) string {
	return fmt.Sprintf("%s %-8s sweeps %d in %.1fs | drains %d (p99 %v) | backlog p50 %.0f p99 %.0f | disarms %d | dropped %d",
		id, state, info.ElapsedSweeps, info.ElapsedTime.Seconds(), stats.Drains, stats.LatencyP99,
		stats.BacklogP50, stats.BacklogP99, stats.Backpressure, stats.Dropped)
}

func (s *statusLine) show(line string) {
	if !s.tty {
		logger.Info(line, "status")
		return
	}
	if width, _, err := term.GetSize(s.fd); err == nil && width > 0 && len(line) >= width {
		line = line[:width-1]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, clearLine+line)
	s.shown = true
}

// done moves the cursor past the status line.
func (s *statusLine) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tty && s.shown {
		fmt.Fprintln(s.out)
		s.shown = false
	}
}

func runStatus(ctx context.Context, session *fastcounter.Session, interval time.Duration, s *statusLine) {
	if interval <= 0 {
		return
	}
	id := session.ID.String()[:8]
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info := session.Trace().Info
			s.show(formatStatus(id, session.State(), info, session.Stats()))
		}
	}
}
