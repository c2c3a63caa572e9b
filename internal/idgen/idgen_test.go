package idgen

import (
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"poll length", PollIDLength, 8},
		{"session length", SessionIDLength, 21},
		{"zero clamps to one", 0, 1},
		{"too long clamps to uuid size", 64, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.n)
			if len(got) != tt.want {
				t.Errorf("Expected length %d, but got %d (%q)", tt.want, len(got), got)
			}
			for _, r := range got {
				if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
					t.Fatalf("Expected hex identifier, but got %q", got)
				}
			}
		})
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Session()
		if seen[id] {
			t.Fatalf("Duplicate session id %s after %d draws", id, i)
		}
		seen[id] = true
	}
}
