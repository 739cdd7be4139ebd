package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPrinterRoutesStreams(t *testing.T) {
	var out, errw bytes.Buffer
	p := NewPrinter(&out, &errw)

	p.Locked("/repo/a.gren")
	p.Released("/repo/a.gren")
	p.Cleaned(2)
	p.Success("agent %s idle", "frontend")
	p.Blocked("/repo/b.gren", "backend")
	p.Warn("release failed for %s", "/repo/c.gren")
	p.Failure("boom")

	wantOut := "🔒 Locked /repo/a.gren\n" +
		"🔓 Released /repo/a.gren\n" +
		"🧹 Removed 2 expired lock(s)\n" +
		"✅ agent frontend idle\n"
	if out.String() != wantOut {
		t.Errorf("stdout:\n%q\nwant:\n%q", out.String(), wantOut)
	}

	errText := errw.String()
	for _, want := range []string{
		"🚫 /repo/b.gren is locked by backend. Retry shortly.",
		"release failed for /repo/c.gren",
		"❌ boom",
	} {
		if !strings.Contains(errText, want) {
			t.Errorf("stderr missing %q:\n%s", want, errText)
		}
	}
	if strings.Contains(errText, "\x1b[") {
		t.Error("colour codes written to a non-terminal")
	}
}

func TestPrinterNilWriters(t *testing.T) {
	p := NewPrinter(nil, nil)
	p.Locked("/a")
	p.Failure("ignored")
}

func TestTablePlain(t *testing.T) {
	tbl := Table{
		Columns: []string{"PATH", "AGENT"},
		Rows: [][]string{
			{"/repo/src/Main.gren", "frontend"},
			{"/a", "backend"},
		},
	}
	want := "PATH                 AGENT\n" +
		"/repo/src/Main.gren  frontend\n" +
		"/a                   backend\n"
	if got := tbl.Plain(); got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}

	var buf bytes.Buffer
	tbl.Render(&buf)
	if buf.String() != want {
		t.Errorf("Render on a buffer should be plain, got:\n%s", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{2*time.Minute + 10*time.Second, "2m10s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h2m3s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	if got := Ago(now.Add(-90*time.Second), now); got != "1m30s ago" {
		t.Errorf("Ago past: %q", got)
	}
	if got := Ago(now.Add(5*time.Minute), now); got != "in 5m0s" {
		t.Errorf("Ago future: %q", got)
	}
}
