package storage

import (
	"testing"
	"time"
)

func TestTimeFrameString(t *testing.T) {
	cases := map[TimeFrame]string{
		NoTimeFrame: "",
		AllTime:     "ALL_TIME",
		Monthly:     "MONTHLY",
		Weekly:      "WEEKLY",
	}
	for tf, want := range cases {
		if got := tf.String(); got != want {
			t.Errorf("TimeFrame(%d).String() = %q, want %q", tf, got, want)
		}
	}
}

func TestParseTimeFrame(t *testing.T) {
	cases := []struct {
		in   string
		want TimeFrame
	}{
		{"", NoTimeFrame},
		{"  ", NoTimeFrame},
		{"none", NoTimeFrame},
		{"ALL_TIME", AllTime},
		{"all-time", AllTime},
		{"monthly", Monthly},
		{"Weekly", Weekly},
	}
	for _, tc := range cases {
		got, err := ParseTimeFrame(tc.in)
		if err != nil {
			t.Errorf("ParseTimeFrame(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTimeFrame(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseTimeFrame("yearly"); err == nil {
		t.Error("ParseTimeFrame(yearly): expected error")
	}
}

func TestLabel(t *testing.T) {
	if got := NoTimeFrame.Label(); got != "NONE" {
		t.Errorf("NoTimeFrame.Label() = %q, want NONE", got)
	}
	if got := Weekly.Label(); got != "WEEKLY" {
		t.Errorf("Weekly.Label() = %q, want WEEKLY", got)
	}
}

func TestTagIsNullForNoTimeFrame(t *testing.T) {
	if NoTimeFrame.Tag() != nil {
		t.Errorf("NoTimeFrame.Tag() = %q, want nil", *NoTimeFrame.Tag())
	}
	tag := Monthly.Tag()
	if tag == nil || *tag != "MONTHLY" {
		t.Errorf("Monthly.Tag() = %v, want MONTHLY", tag)
	}
}

func TestWindowPredicate(t *testing.T) {
	clause, args := WindowPredicate(NoTimeFrame, "$1")
	if clause != "time_frame IS NULL" || len(args) != 0 {
		t.Errorf("unset window: got (%q, %v)", clause, args)
	}
	clause, args = WindowPredicate(Weekly, "$2")
	if clause != "time_frame = $2" {
		t.Errorf("clause = %q", clause)
	}
	if len(args) != 1 || args[0] != "WEEKLY" {
		t.Errorf("args = %v, want [WEEKLY]", args)
	}
}

func TestPeriodStart(t *testing.T) {
	// Thursday 2026-10-15 13:45 UTC
	now := time.Date(2026, time.October, 15, 13, 45, 0, 0, time.UTC)

	if got, want := Monthly.PeriodStart(now), time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Monthly.PeriodStart = %v, want %v", got, want)
	}
	if got, want := Weekly.PeriodStart(now), time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Weekly.PeriodStart = %v, want %v", got, want)
	}
	sunday := time.Date(2026, time.October, 18, 23, 59, 0, 0, time.UTC)
	if got, want := Weekly.PeriodStart(sunday), time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Weekly.PeriodStart(sunday) = %v, want %v", got, want)
	}
	if !AllTime.PeriodStart(now).IsZero() || !NoTimeFrame.PeriodStart(now).IsZero() {
		t.Error("non-resetting windows should have a zero period start")
	}
}
