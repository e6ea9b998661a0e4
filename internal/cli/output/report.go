package output

import (
	"fmt"
	"time"

	"github.com/marmos91/dittoshuffle/internal/bytesize"
)

// TransferEntry is one finished transfer as shown by the CLI.
type TransferEntry struct {
	Block    string        `json:"block" yaml:"block"`
	Kind     string        `json:"kind" yaml:"kind"`
	Backend  string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Bytes    int64         `json:"bytes" yaml:"bytes"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
	Target   string        `json:"target,omitempty" yaml:"target,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the transfer ended in error.
func (e TransferEntry) Failed() bool {
	return e.Error != ""
}

// TransferReport lists transfers in completion order.
type TransferReport struct {
	Entries []TransferEntry `json:"transfers" yaml:"transfers"`
}

// Add appends an entry.
func (r *TransferReport) Add(e TransferEntry) {
	r.Entries = append(r.Entries, e)
}

// Failures counts failed entries.
func (r *TransferReport) Failures() int {
	n := 0
	for _, e := range r.Entries {
		if e.Failed() {
			n++
		}
	}
	return n
}

// TotalBytes sums the bytes of successful entries.
func (r *TransferReport) TotalBytes() int64 {
	var n int64
	for _, e := range r.Entries {
		if !e.Failed() {
			n += e.Bytes
		}
	}
	return n
}

func (r *TransferReport) Headers() []string {
	return []string{"Block", "Kind", "Status", "Size", "Duration", "Rate", "Backend", "Target"}
}

func (r *TransferReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		status, size, rate, target := "ok", FormatBytes(e.Bytes), FormatRate(e.Bytes, e.Duration), e.Target
		if e.Failed() {
			status, size, rate, target = "failed", "-", "-", e.Error
		}
		rows = append(rows, []string{
			e.Block, e.Kind, status, size, FormatDuration(e.Duration), rate, e.Backend, target,
		})
	}
	return rows
}

// FormatBytes renders n in binary units.
func FormatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return bytesize.ByteSize(n).String()
}

// FormatDuration renders d rounded to a readable precision.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// FormatRate renders the throughput of n bytes over d.
func FormatRate(n int64, d time.Duration) string {
	if d <= 0 || n <= 0 {
		return "-"
	}
	perSec := float64(n) / d.Seconds()
	return fmt.Sprintf("%s/s", bytesize.ByteSize(perSec).String())
}
