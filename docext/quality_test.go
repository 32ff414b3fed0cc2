package docext

import "testing"

func TestReadableStats_Normal(t *testing.T) {
	// WHAT: Plain English text is almost entirely readable.
	// WHY: Baseline for the candidate scoring ratio.
	count, ratio := readableStats("This is a normal sentence, with standard punctuation.")
	if ratio < 0.95 {
		t.Errorf("readable ratio = %f, want > 0.95", ratio)
	}
	if count == 0 {
		t.Error("readable count = 0, want > 0")
	}
}

func TestReadableStats_Garbled(t *testing.T) {
	// WHAT: PUA and control characters drag the readable ratio down.
	// WHY: Garbled CIDFont output must rank below real recoveries.
	garbage := "ab\x01\x02\x03\x04cd"
	_, ratio := readableStats(garbage)
	if ratio >= 0.5 {
		t.Errorf("readable ratio = %f, want < 0.5", ratio)
	}
}

func TestReadableStats_Empty(t *testing.T) {
	count, ratio := readableStats("")
	if count != 0 || ratio != 0 {
		t.Errorf("empty text = (%d, %f), want (0, 0)", count, ratio)
	}
}

func TestIsReadableRune(t *testing.T) {
	cases := []struct {
		r    rune
		want bool
	}{
		{'a', true},
		{'Z', true},
		{'7', true},
		{' ', true},
		{'\n', true},
		{'?', true},
		{'\'', true},
		{'(', true},
		{'-', true},
		{'\x01', false},
		{'', false},
		{'é', false},
		{'€', false},
	}
	for _, tc := range cases {
		if got := isReadableRune(tc.r); got != tc.want {
			t.Errorf("isReadableRune(%q) = %v, want %v", tc.r, got, tc.want)
		}
	}
}

func TestPrintableRatio_Normal(t *testing.T) {
	// WHAT: Normal text has high printable ratio.
	// WHY: Validates baseline quality scoring.
	ratio := computePrintableRatio("This is a normal sentence with standard characters.")
	if ratio < 0.95 {
		t.Errorf("printable ratio = %f, want > 0.95", ratio)
	}
}

func TestPrintableRatio_Garbage(t *testing.T) {
	// WHAT: PUA and control chars produce low printable ratio.
	// WHY: Detects garbled PDF extraction (CIDFont without ToUnicode).
	garbage := "abcdefghi\x01\x02\x03\x04\x05"
	ratio := computePrintableRatio(garbage)
	if ratio >= 0.85 {
		t.Errorf("printable ratio = %f, want < 0.85", ratio)
	}
}

func TestWordlikeRatio_Normal(t *testing.T) {
	// WHAT: Normal phrases have high wordlike ratio.
	// WHY: Real text has multi-character words.
	ratio := computeWordlikeRatio("This is a normal sentence with standard words inside")
	if ratio < 0.70 {
		t.Errorf("wordlike ratio = %f, want > 0.70", ratio)
	}
}

func TestWordlikeRatio_SingleChar(t *testing.T) {
	// WHAT: Single-char tokens produce low wordlike ratio.
	// WHY: Detects broken character-by-character extraction.
	ratio := computeWordlikeRatio("a b c d e f g h i j k l")
	if ratio >= 0.40 {
		t.Errorf("wordlike ratio = %f, want < 0.40", ratio)
	}
}

func TestWordlikeRatio_Empty(t *testing.T) {
	if ratio := computeWordlikeRatio("   "); ratio != 0 {
		t.Errorf("wordlike ratio = %f, want 0 for blank input", ratio)
	}
}
