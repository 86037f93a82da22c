package pollen

import "testing"

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"", LevelUnknown},
		{"none", LevelNone},
		{"very_low", LevelVeryLow},
		{"Very Low", LevelVeryLow},
		{"very-high", LevelVeryHigh},
		{"较低", LevelLow},
		{"偏高", LevelModerate},
		{"极高", LevelExtreme},
		{"0", LevelNone},
		{"6", LevelExtreme},
		{"unknown", LevelUnknown},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestParseLevelRejectsGarbage(t *testing.T) {
	for _, in := range []string{"purple", "7", "-1"} {
		if _, err := ParseLevel(in); err == nil {
			t.Fatalf("ParseLevel(%q): expected error", in)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	if LevelUnknown.Known() {
		t.Fatalf("sentinel must not count as known")
	}
	for i := 1; i < len(Levels); i++ {
		if Levels[i-1] >= Levels[i] {
			t.Fatalf("levels not ascending at %d: %s >= %s", i, Levels[i-1], Levels[i])
		}
		if !Levels[i].Known() {
			t.Fatalf("expected %s to be known", Levels[i])
		}
	}
	if LevelNone.Color() == "" || LevelExtreme.Description() == "" {
		t.Fatalf("expected display attributes for observable levels")
	}
}

func TestLevelTextRoundTrip(t *testing.T) {
	for _, l := range append([]Level{LevelUnknown}, Levels...) {
		b, err := l.MarshalText()
		if err != nil {
			t.Fatalf("marshal %d: %v", l, err)
		}
		var back Level
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("unmarshal %q: %v", b, err)
		}
		if back != l {
			t.Fatalf("expected %s, got %s", l, back)
		}
	}
}
