package bloodbank

import (
	"strings"
	"testing"
	"time"
)

func TestCanTransitionUnit(t *testing.T) {
	cases := []struct {
		from, to UnitStatus
		want     bool
	}{
		{UnitTesting, UnitAvailable, true},
		{UnitTesting, UnitQuarantined, true},
		{UnitTesting, UnitIssued, false},
		{UnitAvailable, UnitCrossMatched, true},
		{UnitAvailable, UnitIssued, true},
		{UnitReserved, UnitAvailable, true},
		{UnitCrossMatched, UnitIssued, true},
		{UnitCrossMatched, UnitAvailable, false},
		{UnitIssued, UnitTransfused, true},
		{UnitIssued, UnitReturned, true},
		{UnitIssued, UnitDiscarded, false},
		{UnitReturned, UnitDiscarded, true},
		{UnitReturned, UnitAvailable, false},
		{UnitQuarantined, UnitDiscarded, true},
		{UnitQuarantined, UnitAvailable, false},
		{UnitTransfused, UnitDiscarded, false},
		{UnitDiscarded, UnitTesting, false},
	}
	for _, c := range cases {
		if got := CanTransitionUnit(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionUnit(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalUnit(t *testing.T) {
	for _, s := range []UnitStatus{UnitTransfused, UnitDiscarded} {
		if !TerminalUnit(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []UnitStatus{UnitTesting, UnitAvailable, UnitIssued, UnitQuarantined, UnitReturned} {
		if TerminalUnit(s) {
			t.Errorf("did not expect %s to be terminal", s)
		}
	}
}

func TestRequestRank_Ordering(t *testing.T) {
	order := []RequestStatus{
		RequestPending, RequestSampleReceived, RequestCrossMatching,
		RequestReady, RequestIssued, RequestCompleted,
	}
	for i := 1; i < len(order); i++ {
		if RequestRank(order[i-1]) >= RequestRank(order[i]) {
			t.Errorf("expected %s to rank below %s", order[i-1], order[i])
		}
	}
	if RequestRank("BOGUS") != -1 {
		t.Errorf("unknown status should rank -1, got %d", RequestRank("BOGUS"))
	}
}

func TestUrgencySLATargets(t *testing.T) {
	cases := map[Urgency]int{
		UrgencyEmergency: 5,
		UrgencyMTP:       5,
		UrgencyUrgent:    15,
		UrgencyRoutine:   45,
	}
	for u, want := range cases {
		if got := u.SLATargetMinutes(); got != want {
			t.Errorf("%s SLA = %d, want %d", u, got, want)
		}
	}
	if (Urgency("WHENEVER")).Valid() {
		t.Error("unexpected urgency accepted")
	}
}

func TestDocumentNumbers(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		got    string
		prefix string
	}{
		{newRequestNumber(at), "BR-"},
		{newCrossMatchNumber(at), "XM-"},
		{newElectronicXMNumber(at), "EXM-"},
		{newIssueNumber(at), "BI-"},
	}
	for _, c := range cases {
		if !strings.HasPrefix(c.got, c.prefix) {
			t.Errorf("expected prefix %q, got %q", c.prefix, c.got)
		}
		if c.got != strings.ToUpper(c.got) {
			t.Errorf("expected uppercase number, got %q", c.got)
		}
	}
	if newIssueNumber(at) == newIssueNumber(at.Add(time.Millisecond)) {
		t.Error("numbers a millisecond apart should differ")
	}
}
