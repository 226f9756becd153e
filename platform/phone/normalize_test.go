package phone

import "testing"

func TestParseE164(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		region  string
		want    string
		wantErr bool
	}{
		{name: "national french", input: "06 12 34 56 78", region: "FR", want: "+33612345678"},
		{name: "already e164", input: "+33612345678", region: "FR", want: "+33612345678"},
		{name: "empty", input: "  ", region: "FR", wantErr: true},
		{name: "garbage", input: "not a number", region: "FR", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseE164(tc.input, tc.region)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeE164FallsBackToTrimmedInput(t *testing.T) {
	if got := NormalizeE164("  abc "); got != "abc" {
		t.Fatalf("expected trimmed input, got %q", got)
	}
}
