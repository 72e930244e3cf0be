package workerexec

import "testing"

func TestParseMemoryLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"", 0, false},
		{"512Mi", 512 * 1024 * 1024, true},
		{"2Gi", 2 * 1024 * 1024 * 1024, true},
		{"1048576", 1048576, true},
		{"not-a-number", 0, false},
	}
	for _, c := range cases {
		got, ok := parseMemoryLimit(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("parseMemoryLimit(%q) = (%d, %v), want (%d, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
