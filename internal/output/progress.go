package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressPrinter draws one progress line per download. Its Update method
// matches the downloader's progress callback. On a terminal the line is
// redrawn in place; otherwise each update is a new line.
type ProgressPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	label     string
	inPlace   bool
	width     int
	start     time.Time
	lastTime  time.Time
	lastBytes int64
	speed     string
	started   bool
}

func NewProgressPrinter(out io.Writer, label string) *ProgressPrinter {
	p := &ProgressPrinter{out: out, label: label, width: 80, speed: "0 B/s"}
	if f, ok := out.(*os.File); ok {
		p.width, p.inPlace = terminalWidth(f)
	}
	return p
}

func (p *ProgressPrinter) Update(total, downloaded int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if !p.started {
		p.started = true
		p.start = now
		p.lastTime = now
		p.lastBytes = downloaded
	} else if elapsed := now.Sub(p.lastTime); elapsed >= 500*time.Millisecond {
		p.speed = FormatSpeed(downloaded-p.lastBytes, elapsed)
		p.lastTime = now
		p.lastBytes = downloaded
	}
	line := p.line(total, downloaded)
	if p.inPlace {
		fmt.Fprintf(p.out, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(p.out, line)
}

// Finish ends the in-place line so later output starts on a fresh one.
func (p *ProgressPrinter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inPlace && p.started {
		fmt.Fprintln(p.out)
	}
}

func (p *ProgressPrinter) line(total, downloaded int64) string {
	sizes := fmt.Sprintf("%s / %s", FormatBytes(uint64(max(downloaded, 0))), FormatBytes(uint64(max(total, 0))))
	barWidth := min(30, max(10, p.width-len(p.label)-len(sizes)-len(p.speed)-20))
	return fmt.Sprintf("%s %s %s %s %s %s",
		FPending(p.label),
		FDebug(ProgressBar(downloaded, total, barWidth)),
		StyleSymbols["bullet"],
		FInfo(sizes),
		StyleSymbols["bullet"],
		FDetail(p.speed),
	)
}
