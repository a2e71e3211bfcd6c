// Package fonts provides metrics for the standard 14 PDF fonts, used to fit
// appearance text without embedding a font program.
package fonts

import (
	"errors"
	"fmt"
)

// ErrFontNotFound is returned for a name outside the standard 14 fonts.
var ErrFontNotFound = errors.New("font not found")

// StandardFont represents a PDF standard font name.
type StandardFont string

// Standard 14 fonts available in all PDF readers
const (
	Helvetica            StandardFont = "Helvetica"
	HelveticaBold        StandardFont = "Helvetica-Bold"
	HelveticaOblique     StandardFont = "Helvetica-Oblique"
	HelveticaBoldOblique StandardFont = "Helvetica-BoldOblique"
	Times                StandardFont = "Times-Roman"
	TimesBold            StandardFont = "Times-Bold"
	TimesItalic          StandardFont = "Times-Italic"
	TimesBoldItalic      StandardFont = "Times-BoldItalic"
	Courier              StandardFont = "Courier"
	CourierBold          StandardFont = "Courier-Bold"
	CourierOblique       StandardFont = "Courier-Oblique"
	CourierBoldOblique   StandardFont = "Courier-BoldOblique"
	Symbol               StandardFont = "Symbol"
	ZapfDingbats         StandardFont = "ZapfDingbats"
)

// IsStandardFont checks if a font name is a standard font.
func IsStandardFont(name string) bool {
	switch StandardFont(name) {
	case Helvetica, HelveticaBold, HelveticaOblique, HelveticaBoldOblique,
		Times, TimesBold, TimesItalic, TimesBoldItalic,
		Courier, CourierBold, CourierOblique, CourierBoldOblique,
		Symbol, ZapfDingbats:
		return true
	}
	return false
}

// Metrics holds the glyph advances of a standard font in units of 1/1000 em.
type Metrics struct {
	Name      StandardFont
	Ascender  float64
	Descender float64
	// ascii holds advances for codes 32-126; zero means DefaultWidth.
	ascii        *[95]uint16
	DefaultWidth float64
}

// Width returns the advance of r in 1/1000 em.
func (m *Metrics) Width(r rune) float64 {
	if m.ascii != nil && r >= 32 && r <= 126 {
		if w := m.ascii[r-32]; w != 0 {
			return float64(w)
		}
	}
	return m.DefaultWidth
}

// StringWidth returns the width of s in points at the given font size.
func (m *Metrics) StringWidth(s string, fontSize float64) float64 {
	var width float64
	for _, r := range s {
		width += m.Width(r)
	}
	return width * fontSize / 1000
}

// LineHeight returns the distance from descender to ascender at the given
// font size.
func (m *Metrics) LineHeight(fontSize float64) float64 {
	return (m.Ascender - m.Descender) * fontSize / 1000
}

// Standard returns the metrics of a standard 14 font.
func Standard(name string) (*Metrics, error) {
	if !IsStandardFont(name) {
		return nil, fmt.Errorf("%w: %q is not a standard PDF font", ErrFontNotFound, name)
	}
	f := StandardFont(name)
	m := &Metrics{Name: f, Ascender: 800, Descender: -200, DefaultWidth: 600}
	switch f {
	case Helvetica, HelveticaOblique:
		m.Ascender, m.Descender, m.DefaultWidth = 718, -207, 556
		m.ascii = &helveticaWidths
	case HelveticaBold, HelveticaBoldOblique:
		m.Ascender, m.Descender, m.DefaultWidth = 718, -207, 556
		m.ascii = &helveticaBoldWidths
	case Times, TimesItalic:
		m.Ascender, m.Descender, m.DefaultWidth = 683, -217, 500
		m.ascii = &timesWidths
	case TimesBold, TimesBoldItalic:
		m.Ascender, m.Descender, m.DefaultWidth = 683, -217, 500
		m.ascii = &timesBoldWidths
	case Courier, CourierBold, CourierOblique, CourierBoldOblique:
		// Fixed pitch.
		m.Ascender, m.Descender = 629, -157
	}
	return m, nil
}

var helveticaWidths = [95]uint16{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

var helveticaBoldWidths = [95]uint16{
	278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 333, 333, 584, 584, 584, 611,
	975, 722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 333, 278, 333, 584, 556,
	333, 556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889, 611, 611,
	611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500, 389, 280, 389, 584,
}

var timesWidths = [95]uint16{
	250, 333, 408, 500, 500, 833, 778, 180, 333, 333, 500, 564, 250, 333, 250, 278,
	500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 278, 278, 564, 564, 564, 444,
	921, 722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889, 722, 722,
	556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611, 333, 278, 333, 469, 500,
	333, 444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778, 500, 500,
	500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444, 480, 200, 480, 541,
}

var timesBoldWidths = [95]uint16{
	250, 333, 555, 500, 500, 1000, 833, 278, 333, 333, 500, 570, 250, 333, 250, 278,
	500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 333, 333, 570, 570, 570, 500,
	930, 722, 667, 722, 722, 667, 611, 778, 778, 389, 500, 778, 667, 944, 722, 778,
	611, 778, 722, 556, 667, 722, 722, 1000, 722, 722, 667, 333, 278, 333, 581, 500,
	333, 500, 556, 444, 556, 444, 333, 500, 556, 278, 333, 556, 278, 833, 556, 500,
	556, 556, 444, 389, 333, 556, 500, 722, 500, 500, 444, 394, 220, 394, 520,
}
