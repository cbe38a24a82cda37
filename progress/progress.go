// Package progress reports the advance of long inference loops. On a
// terminal it redraws a single status line; otherwise it logs through klog
// at every tenth of the way.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

const clearLine = "\r\033[K"

// Bar tracks completed steps out of a known total. It is safe for
// concurrent use.
type Bar struct {
	mu     sync.Mutex
	w      io.Writer
	label  string
	total  int
	done   int
	note   string
	tty    bool
	start  time.Time
	logged int
	now    func() time.Time
}

// New returns a bar writing to w, or to stderr when w is nil.
func New(label string, total int, w io.Writer) *Bar {
	if w == nil {
		w = os.Stderr
	}
	b := &Bar{w: w, label: label, total: total, now: time.Now}
	b.tty = isTerminal(w)
	b.start = b.now()
	return b
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Set records n completed steps and an optional note such as the current
// loss.
func (b *Bar) Set(n int, note string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = n
	b.note = note
	b.report()
}

// Add records n more completed steps.
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done += n
	b.report()
}

// Finish prints the final line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tty {
		fmt.Fprintf(b.w, "%s%s\n", clearLine, b.line())
		return
	}
	klog.Info(b.line())
}

func (b *Bar) report() {
	if b.tty {
		fmt.Fprint(b.w, clearLine+b.line())
		return
	}
	if b.total <= 0 {
		return
	}
	tenth := b.done * 10 / b.total
	if tenth > b.logged {
		b.logged = tenth
		klog.Info(b.line())
	}
}

// line renders "label 1,200/1,600 (75%) 310.4 it/s note".
func (b *Bar) line() string {
	var sb strings.Builder
	sb.WriteString(b.label)
	sb.WriteByte(' ')
	sb.WriteString(humanize.Comma(int64(b.done)))
	if b.total > 0 {
		fmt.Fprintf(&sb, "/%s (%d%%)", humanize.Comma(int64(b.total)), b.done*100/b.total)
	}
	if el := b.now().Sub(b.start).Seconds(); el > 0 {
		fmt.Fprintf(&sb, " %s it/s", humanize.FtoaWithDigits(float64(b.done)/el, 1))
	}
	if b.note != "" {
		sb.WriteByte(' ')
		sb.WriteString(b.note)
	}
	return sb.String()
}
