// Package stamp provides signature appearance functionality.
package stamp

import (
	"bytes"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"rsc.io/qr"

	"github.com/georgepadayatti/pdfsign/pdf/fonts"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
)

// StampStyle configures the appearance of a stamp.
type StampStyle struct {
	// Background color (RGBA)
	BackgroundColor color.RGBA
	// Border color
	BorderColor color.RGBA
	// Border width in points
	BorderWidth float64
	// Text color, also used for QR modules
	TextColor color.RGBA
	// Font size in points; shrunk when the lines do not fit
	FontSize float64
	// Font name (standard PDF fonts)
	FontName string
	// Padding inside the stamp
	Padding float64
}

// DefaultStampStyle returns the default stamp style.
func DefaultStampStyle() *StampStyle {
	return &StampStyle{
		BackgroundColor: color.RGBA{255, 255, 255, 255},
		BorderColor:     color.RGBA{0, 0, 0, 255},
		BorderWidth:     1.0,
		TextColor:       color.RGBA{0, 0, 0, 255},
		FontSize:        10.0,
		FontName:        "Helvetica",
		Padding:         5.0,
	}
}

const (
	lineSpacing = 1.2
	minFontSize = 1.0
)

// Render draws the appearance into a form XObject of the given size. The
// result depends only on the appearance and the size.
func (a *Appearance) Render(width, height float64) (*generic.StreamObject, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid appearance size %gx%g", width, height)
	}
	style := a.Style
	if style == nil {
		style = DefaultStampStyle()
	}
	metrics, err := fonts.Standard(style.FontName)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("q\n")

	if style.BackgroundColor.A > 0 {
		fmt.Fprintf(&buf, "%s rg\n", rgb(style.BackgroundColor))
		fmt.Fprintf(&buf, "0 0 %s %s re f\n", num(width), num(height))
	}
	if style.BorderWidth > 0 {
		fmt.Fprintf(&buf, "%s RG\n", rgb(style.BorderColor))
		fmt.Fprintf(&buf, "%s w\n", num(style.BorderWidth))
		half := style.BorderWidth / 2
		fmt.Fprintf(&buf, "%s %s %s %s re S\n", num(half), num(half), num(width-style.BorderWidth), num(height-style.BorderWidth))
	}

	textX := style.Padding
	if a.Mode == ModeQR {
		side, err := a.drawQR(&buf, style, height)
		if err != nil {
			return nil, err
		}
		textX += side + style.Padding
	}

	if err := a.drawLines(&buf, style, metrics, textX, width-textX-style.Padding, height); err != nil {
		return nil, err
	}
	buf.WriteString("Q\n")

	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XObject"))
	dict.Set("Subtype", generic.NameObject("Form"))
	dict.Set("BBox", generic.NewArray(generic.IntegerObject(0), generic.IntegerObject(0), generic.RealObject(width), generic.RealObject(height)))

	font := generic.NewDictionary()
	font.Set("Type", generic.NameObject("Font"))
	font.Set("Subtype", generic.NameObject("Type1"))
	font.Set("BaseFont", generic.NameObject(style.FontName))
	font.Set("Encoding", generic.NameObject("WinAnsiEncoding"))
	fontRes := generic.NewDictionary()
	fontRes.Set("F1", font)
	resources := generic.NewDictionary()
	resources.Set("Font", fontRes)
	resources.Set("ProcSet", generic.NewArray(generic.NameObject("PDF"), generic.NameObject("Text")))
	dict.Set("Resources", resources)

	return generic.NewStream(dict, buf.Bytes()), nil
}

// drawQR fills the dark modules of the payload's QR code along the left edge
// and returns the side length used.
func (a *Appearance) drawQR(buf *bytes.Buffer, style *StampStyle, height float64) (float64, error) {
	code, err := qr.Encode(a.Payload, qr.M)
	if err != nil {
		return 0, fmt.Errorf("QR encoding failed: %w", err)
	}

	side := height - 2*style.Padding
	if side <= 0 {
		return 0, nil
	}
	module := side / float64(code.Size)

	fmt.Fprintf(buf, "%s rg\n", rgb(style.TextColor))
	for y := 0; y < code.Size; y++ {
		// QR rows run top-down, PDF user space bottom-up.
		py := style.Padding + float64(code.Size-1-y)*module
		for x := 0; x < code.Size; {
			if !code.Black(x, y) {
				x++
				continue
			}
			run := 1
			for x+run < code.Size && code.Black(x+run, y) {
				run++
			}
			fmt.Fprintf(buf, "%s %s %s %s re\n",
				num(style.Padding+float64(x)*module), num(py), num(float64(run)*module), num(module))
			x += run
		}
	}
	buf.WriteString("f\n")
	return side, nil
}

func (a *Appearance) drawLines(buf *bytes.Buffer, style *StampStyle, metrics *fonts.Metrics, x, avail, height float64) error {
	if len(a.Lines) == 0 || avail <= 0 {
		return nil
	}

	// Widest line at 1pt.
	var widest float64
	for _, line := range a.Lines {
		widest = max(widest, metrics.StringWidth(line, 1))
	}
	size := style.FontSize
	if fit := (height - 2*style.Padding) / (lineSpacing * float64(len(a.Lines))); fit < size {
		size = fit
	}
	if widest > 0 {
		if fit := avail / widest; fit < size {
			size = fit
		}
	}
	size = max(size, minFontSize)

	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

	fmt.Fprintf(buf, "%s rg\n", rgb(style.TextColor))
	buf.WriteString("BT\n")
	fmt.Fprintf(buf, "/F1 %s Tf\n", num(size))
	fmt.Fprintf(buf, "%s TL\n", num(size*lineSpacing))
	fmt.Fprintf(buf, "%s %s Td\n", num(x), num(height-style.Padding-size))
	for i, line := range a.Lines {
		encoded, err := enc.Bytes([]byte(line))
		if err != nil {
			return fmt.Errorf("encode appearance text: %w", err)
		}
		// The charmap substitutes SUB for runes outside WinAnsi.
		encoded = bytes.ReplaceAll(encoded, []byte{0x1A}, []byte{'?'})
		if i > 0 {
			buf.WriteString("T*\n")
		}
		buf.Write(generic.EscapeLiteral(encoded))
		buf.WriteString(" Tj\n")
	}
	buf.WriteString("ET\n")
	return nil
}

func rgb(c color.RGBA) string {
	return num(float64(c.R)/255) + " " + num(float64(c.G)/255) + " " + num(float64(c.B)/255)
}

// num formats a coordinate with at most three decimals.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = trimZeros(s)
	if s == "-0" {
		return "0"
	}
	return s
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
