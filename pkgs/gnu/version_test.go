package gnu

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"libssl.so.3", "libssl.so.3", 0},
		{"libssl.so.1.1", "libssl.so.3", -1},
		{"libdbus-1.so.3.32.4", "libdbus-1.so.3.7.0", 1},
		{"libfoo.so.10", "libfoo.so.9", 1},
		{"libfoo.so", "libfoo.so.1", -1},
		{"libfoo.so.01", "libfoo.so.1", 0},
		{"1.0~rc1", "1.0", -1},
		{"1.0a", "1.0+", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestLatest(t *testing.T) {
	if got := Latest(nil); got != "" {
		t.Fatalf("Latest(nil) = %q", got)
	}
	names := []string{"libssl.so.1.1", "libssl.so", "libssl.so.3", "libssl.so.1.0.2"}
	if got := Latest(names); got != "libssl.so.3" {
		t.Fatalf("Latest = %q, want libssl.so.3", got)
	}
}
