package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func fixedBar(total int) (*Bar, *bytes.Buffer) {
	var buf bytes.Buffer
	b := New("vi", total, &buf)
	t0 := time.Unix(0, 0)
	b.start = t0
	b.now = func() time.Time { return t0.Add(2 * time.Second) }
	return b, &buf
}

func TestLineFormat(t *testing.T) {
	b, _ := fixedBar(1600)
	b.Set(1200, "loss 3.2")
	got := b.line()
	want := "vi 1,200/1,600 (75%) 600 it/s loss 3.2"
	if got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestNonTerminalWritesNothing(t *testing.T) {
	b, buf := fixedBar(10)
	if b.tty {
		t.Fatal("buffer detected as a terminal")
	}
	for i := 0; i < 10; i++ {
		b.Add(1)
	}
	b.Finish()
	if buf.Len() != 0 {
		t.Fatalf("non-terminal output went to the writer: %q", buf.String())
	}
	if b.logged != 10 {
		t.Fatalf("logged up to tenth %d", b.logged)
	}
}

func TestTerminalRedraws(t *testing.T) {
	b, buf := fixedBar(4)
	b.tty = true
	b.Add(2)
	b.Finish()
	out := buf.String()
	if strings.Count(out, clearLine) != 2 || !strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected terminal output %q", out)
	}
	if !strings.Contains(out, "2/4 (50%)") {
		t.Fatalf("missing counts in %q", out)
	}
}

func TestUnknownTotal(t *testing.T) {
	b, _ := fixedBar(0)
	b.Add(5)
	if got := b.line(); got != "vi 5 2.5 it/s" {
		t.Fatalf("line = %q", got)
	}
}
