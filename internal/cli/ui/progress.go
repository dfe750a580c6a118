package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/particlekit/particlekit/internal/paint"
)

// PaintProgress prints a running status line while ranks paint. It is a
// paint.Observer and is safe for use by every rank at once.
type PaintProgress struct {
	writer  io.Writer
	ranks   int
	noColor bool

	mu       sync.Mutex
	chunks   int
	received int
	done     int
	total    float64
}

// NewPaintProgress creates a status line for a run over ranks members
func NewPaintProgress(w io.Writer, ranks int, noColor bool) *PaintProgress {
	return &PaintProgress{writer: w, ranks: ranks, noColor: noColor}
}

// ChunkPainted updates the status line
func (p *PaintProgress) ChunkPainted(e paint.ChunkEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks++
	p.received += e.Received
	p.render()
}

// Done records a finished rank
func (p *PaintProgress) Done(e paint.DoneEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.total = e.Total
	p.render()
}

// Finish ends the status line
func (p *PaintProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer)
	WriteSuccess(p.writer, fmt.Sprintf("painted total weight %g", p.total), p.noColor)
}

func (p *PaintProgress) render() {
	cyan := color.New(color.FgCyan)
	if p.noColor {
		cyan.DisableColor()
	}
	cyan.Fprintf(p.writer, "\r\033[K%d chunks, %d particles painted, %d/%d ranks done",
		p.chunks, p.received, p.done, p.ranks)
}
