package tracer

import "testing"

func TestIsAnonymousMapping(t *testing.T) {
	cases := []struct {
		pathname string
		want     bool
	}{
		{"", true},
		{"[heap]", true},
		{"[stack]", true},
		{"[vdso]", true},
		{"/usr/lib/libc.so.6", false},
		{"/bin/bash", false},
	}
	for _, c := range cases {
		if got := isAnonymousMapping(c.pathname); got != c.want {
			t.Errorf("isAnonymousMapping(%q) = %v, want %v", c.pathname, got, c.want)
		}
	}
}
