// Package ui reports the progress of long running diary operations such as
// a full re-index.
package ui

import (
	"fmt"
	"io"
	"sync"
)

type UI interface {
	UpdateStatus(status string)
	UpdateProgress(done, total int)
	Log(msg string)
}

// Silent discards every update.
type Silent struct{}

func (Silent) UpdateStatus(status string)     {}
func (Silent) UpdateProgress(done, total int) {}
func (Silent) Log(msg string)                 {}

// Plain writes updates as lines, for pipes and CI logs.
type Plain struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w}
}

func (p *Plain) UpdateStatus(status string) {
	p.printf("%s\n", status)
}

func (p *Plain) UpdateProgress(done, total int) {
	p.printf("[%d/%d]\n", done, total)
}

func (p *Plain) Log(msg string) {
	p.printf("  %s\n", msg)
}

func (p *Plain) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}
