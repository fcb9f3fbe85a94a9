// Package progress defines the sink an import reports to.
package progress

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives one message per visited node.
type Sink interface {
	Report(message string)
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(string) {}

// Func adapts a function to Sink.
type Func func(message string)

func (f Func) Report(message string) { f(message) }

// Log writes each report as an info line.
type Log struct {
	Logger *zap.Logger
	Title  string
}

func (l Log) Report(message string) {
	l.Logger.Info(l.Title, zap.String("current", message))
}

// Recorder keeps every report; safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Report(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of the reports so far.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Counting forwards to Next and counts reports.
type Counting struct {
	Next  Sink
	mu    sync.Mutex
	count int
}

func (c *Counting) Report(message string) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	if c.Next != nil {
		c.Next.Report(message)
	}
}

// Count is the number of reports seen.
func (c *Counting) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
