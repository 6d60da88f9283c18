package record

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := &Record{
		Ticket:         42,
		Direction:      Download,
		Owner:          "owner-1",
		SourceURL:      "https://example.test/a.bin",
		TargetDir:      "downloads",
		TargetName:     "a.bin",
		TempPrefix:     ".partial",
		BytesCompleted: 4_000_000_123,
		BytesTotal:     8_000_000_456,
		Flags: Flags{
			CanHandlePause: true,
			AutoResume:     true,
		},
		Interface:     Wifi,
		RedirectsLeft: 5,
		State:         StateRunning,
	}

	blob, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Ticket != orig.Ticket {
		t.Errorf("Ticket = %d, want %d", decoded.Ticket, orig.Ticket)
	}
	if decoded.BytesCompleted != orig.BytesCompleted {
		t.Errorf("BytesCompleted = %d, want %d", decoded.BytesCompleted, orig.BytesCompleted)
	}
	if decoded.BytesTotal != orig.BytesTotal {
		t.Errorf("BytesTotal = %d, want %d", decoded.BytesTotal, orig.BytesTotal)
	}
	if decoded.SourceURL != orig.SourceURL {
		t.Errorf("SourceURL = %q, want %q", decoded.SourceURL, orig.SourceURL)
	}
	if decoded.State != orig.State {
		t.Errorf("State = %q, want %q", decoded.State, orig.State)
	}
}

func TestEDecimalSurvives64Bit(t *testing.T) {
	const big int64 = 1 << 40 // exceeds int32 range
	truncated, decimal := EDecimal(big)
	if int64(truncated) == big {
		t.Fatalf("expected truncation to lose precision for sanity of this test")
	}
	got := ParseEDecimal(decimal, truncated)
	if got != big {
		t.Errorf("ParseEDecimal = %d, want %d (e_ string must be authoritative)", got, big)
	}
}

func TestParseEDecimalFallsBackToTruncatedForLegacyRows(t *testing.T) {
	got := ParseEDecimal("", 12345)
	if got != 12345 {
		t.Errorf("got %d, want 12345", got)
	}
}
