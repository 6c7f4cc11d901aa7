package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 10, 10, 10, 12, 34, 0, time.UTC)
	to := time.Date(2024, 10, 10, 11, 47, 1, 0, time.UTC)

	gotFrom, gotTo := AlignFromTo(from, to, "5m")
	if gotFrom != time.Date(2024, 10, 10, 10, 10, 0, 0, time.UTC) {
		t.Fatalf("5m from = %v", gotFrom)
	}
	if gotTo != time.Date(2024, 10, 10, 11, 45, 0, 0, time.UTC) {
		t.Fatalf("5m to = %v", gotTo)
	}

	gotFrom, gotTo = AlignFromTo(from, to, "1h")
	if gotFrom != time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC) {
		t.Fatalf("1h from = %v", gotFrom)
	}
	if gotTo != time.Date(2024, 10, 10, 11, 0, 0, 0, time.UTC) {
		t.Fatalf("1h to = %v", gotTo)
	}

	// zero bounds pass through untouched
	gotFrom, gotTo = AlignFromTo(time.Time{}, to, "1m")
	if !gotFrom.IsZero() {
		t.Fatalf("zero from must stay zero, got %v", gotFrom)
	}
	if gotTo != to.Truncate(time.Minute) {
		t.Fatalf("1m to = %v", gotTo)
	}
}
