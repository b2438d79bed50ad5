package props

import "testing"

func TestPollerThreads(t *testing.T) {
	p := Properties{PollerThreadsKey("FanSchedule"): " 20 "}
	if got := p.Int("poller.FanSchedule.numThreads", DefaultPollerThreads); got != LegacyPollerThreads {
		t.Fatalf("numThreads=%d want %d", got, LegacyPollerThreads)
	}
	if got := p.Int(PollerThreadsKey("other"), DefaultPollerThreads); got != DefaultPollerThreads {
		t.Fatalf("missing key=%d want default", got)
	}
}

func TestIntFallsBack(t *testing.T) {
	p := Properties{"a": "x", "blank": "  "}
	if got := p.Int("a", 3); got != 3 {
		t.Fatalf("malformed=%d want default", got)
	}
	if got := p.Int("blank", 4); got != 4 {
		t.Fatalf("blank=%d want default", got)
	}
	var nilProps Properties
	if got := nilProps.Int("a", 5); got != 5 {
		t.Fatalf("nil map=%d want default", got)
	}
}
