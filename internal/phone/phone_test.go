package phone

import "testing"

func TestNormalizeTable(t *testing.T) {
	p := DefaultProfile()

	cases := []struct {
		name      string
		raw       string
		ok        bool
		canonical string
		reason    Reason
	}{
		{"bare local mobile", "3001234567", true, "+573001234567", ""},
		{"with country code", "573001234567", true, "+573001234567", ""},
		{"plus prefix", "+573001234567", true, "+573001234567", ""},
		{"separators", "(300) 123-45.67", true, "+573001234567", ""},
		{"inner whitespace", "300 123 4567", true, "+573001234567", ""},
		{"landline-length", "601234567", false, "", ReasonNotMobileLocal},
		{"wrong lead digit", "2001234567", false, "", ReasonNotMobileLocal},
		{"too long", "30012345678", false, "", ReasonNotMobileLocal},
		{"empty", "", false, "", ReasonNoPhone},
		{"only separators", " - () ", false, "", ReasonNoPhone},
		{"letters", "abc123", false, "", ReasonInvalidFormat},
		{"inner plus", "300+1234567", false, "", ReasonInvalidFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Normalize(tc.raw)
			if got.OK != tc.ok {
				t.Fatalf("Normalize(%q).OK = %v, want %v", tc.raw, got.OK, tc.ok)
			}
			if got.Canonical != tc.canonical {
				t.Fatalf("Normalize(%q).Canonical = %q, want %q", tc.raw, got.Canonical, tc.canonical)
			}
			if !tc.ok && got.Reason != tc.reason {
				t.Fatalf("Normalize(%q).Reason = %q, want %q", tc.raw, got.Reason, tc.reason)
			}
		})
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	p := DefaultProfile()
	inputs := []string{"3001234567", "", "abc", "+57 300 123 4567", "601234567"}
	for _, raw := range inputs {
		a := p.Normalize(raw)
		b := p.Normalize(raw)
		if a != b {
			t.Fatalf("Normalize(%q) not deterministic: %+v vs %+v", raw, a, b)
		}
	}
}
