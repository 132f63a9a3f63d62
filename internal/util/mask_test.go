package util

import "testing"

func TestMaskEmail(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"alice@example.org": "a…@e….org",
		"Bob@Example.ORG":   "b…@e….org",
		"":                  "",
		"ab":                "***",
		"noesunmail":        "n…l",
		"a@example.org":     "a@e….org",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, quería %q", in, got, want)
		}
	}
}
