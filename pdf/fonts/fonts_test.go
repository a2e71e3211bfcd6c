package fonts

import (
	"errors"
	"math"
	"testing"
)

func TestIsStandardFont(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"Helvetica", true},
		{"Times-Roman", true},
		{"Courier-BoldOblique", true},
		{"ZapfDingbats", true},
		{"Arial", false},
		{"helvetica", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStandardFont(tt.name); got != tt.expected {
				t.Errorf("IsStandardFont(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestStandard(t *testing.T) {
	if _, err := Standard("Arial"); !errors.Is(err, ErrFontNotFound) {
		t.Errorf("expected ErrFontNotFound, got %v", err)
	}

	tests := []struct {
		font  string
		r     rune
		width float64
	}{
		{"Helvetica", 'W', 944},
		{"Helvetica", 'i', 222},
		{"Helvetica", ' ', 278},
		{"Helvetica-Bold", 'i', 278},
		{"Times-Roman", 'a', 444},
		{"Times-Bold", 'M', 944},
		{"Courier", 'i', 600},
		{"Courier", 'W', 600},
		{"Helvetica", 'é', 556},
		{"Symbol", 'a', 600},
	}
	for _, tt := range tests {
		t.Run(tt.font+"/"+string(tt.r), func(t *testing.T) {
			m, err := Standard(tt.font)
			if err != nil {
				t.Fatalf("Standard failed: %v", err)
			}
			if got := m.Width(tt.r); got != tt.width {
				t.Errorf("Width(%q) = %v, want %v", tt.r, got, tt.width)
			}
		})
	}
}

func TestStringWidth(t *testing.T) {
	m, err := Standard("Helvetica")
	if err != nil {
		t.Fatal(err)
	}
	// H=722 i=222
	if got := m.StringWidth("Hi", 10); math.Abs(got-9.44) > 1e-9 {
		t.Errorf("StringWidth = %v, want 9.44", got)
	}
	if got := m.StringWidth("", 10); got != 0 {
		t.Errorf("StringWidth of empty string = %v", got)
	}
	if got := m.LineHeight(10); math.Abs(got-9.25) > 1e-9 {
		t.Errorf("LineHeight = %v, want 9.25", got)
	}

	c, _ := Standard("Courier")
	if c.StringWidth("iiii", 10) != c.StringWidth("WWWW", 10) {
		t.Error("Courier should be fixed pitch")
	}
}
