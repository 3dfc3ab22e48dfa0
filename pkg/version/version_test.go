package version

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint64
		minor uint64
	}{
		{"3.2.16", 3, 2},
		{"3.3", 3, 3},
		{"4.4.9", 4, 4},
		{" 4.0.0-beta ", 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major {
				t.Errorf("Major = %d, want %d", v.Major, tt.major)
			}
			if v.Minor != tt.minor {
				t.Errorf("Minor = %d, want %d", v.Minor, tt.minor)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"abc",
		"1.x",
		"v.1.2",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestShort(t *testing.T) {
	if got := MustParse("3.3.38").Short(); got != "3.3" {
		t.Errorf("Short() = %q, want 3.3", got)
	}
}

func TestAPIMethod(t *testing.T) {
	tests := []struct {
		version string
		method  string
		want    string
	}{
		{"3.2.16", "object::all", "object::all"},
		{"3.3.0", "object::all", "jeeObject::all"},
		{"3.3.0-rc1", "object::all", "jeeObject::all"},
		{"4.4.9", "object::all", "jeeObject::all"},
		{"4.4.9", "eqLogic::byType", "eqLogic::byType"},
	}

	for _, tt := range tests {
		t.Run(tt.version+"/"+tt.method, func(t *testing.T) {
			if got := MustParse(tt.version).APIMethod(tt.method); got != tt.want {
				t.Errorf("APIMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestDefaultEquipmentOrder(t *testing.T) {
	if got := MustParse("3.2").DefaultEquipmentOrder(); got != "0" {
		t.Errorf("3.2 order = %q, want 0", got)
	}
	if got := MustParse("4.3.1").DefaultEquipmentOrder(); got != "9999" {
		t.Errorf("4.3 order = %q, want 9999", got)
	}
}

func TestIsZero(t *testing.T) {
	var v Jeedom
	if !v.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if MustParse("4.0").IsZero() {
		t.Error("4.0 should not be zero")
	}
}
