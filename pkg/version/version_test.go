package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Firmware
		wantErr bool
	}{
		{"3.143.102", Firmware{3, 143, 102}, false},
		{"0.0.0", Firmware{0, 0, 0}, false},
		{"255.255.255", Firmware{255, 255, 255}, false},
		{"3.143", Firmware{}, true},
		{"3.143.102.1", Firmware{}, true},
		{"3..102", Firmware{}, true},
		{"3.143.256", Firmware{}, true},
		{"3.14a.102", Firmware{}, true},
		{"", Firmware{}, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	v := Firmware{3, 143, 102}
	if got := v.String(); got != "3.143.102" {
		t.Errorf("String() = %q, want %q", got, "3.143.102")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"3.143.102", "3.143.102", 0},
		{"3.143.102", "3.143.103", -1},
		{"3.144.0", "3.143.200", 1},
		{"4.0.0", "3.255.255", 1},
		{"2.200.200", "3.0.0", -1},
	}
	for _, tt := range tests {
		a, b := MustParse(tt.a), MustParse(tt.b)
		if got := a.Compare(b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := b.Compare(a); got != -tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestSupported(t *testing.T) {
	if !MustParse("3.143.102").Supported() {
		t.Error("3.143.102 should be supported")
	}
	if !MustParse(Minimum).Supported() {
		t.Error("the minimum version itself should be supported")
	}
	if MustParse("3.136.255").Supported() {
		t.Error("3.136.255 should not be supported")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse with bad input should panic")
		}
	}()
	MustParse("not-a-version")
}
