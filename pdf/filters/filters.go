// Package filters decodes PDF stream filters needed to read cross-reference
// streams and object streams.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/georgepadayatti/pdfsign/pdf/generic"
)

// Common errors
var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// Params holds the /DecodeParms entries relevant to predictors.
type Params struct {
	Predictor        int
	Colors           int
	BitsPerComponent int
	Columns          int
}

// ParamsFromDict reads predictor parameters, applying the defaults of
// ISO 32000 table 8.
func ParamsFromDict(dict *generic.DictionaryObject) Params {
	p := Params{Predictor: 1, Colors: 1, BitsPerComponent: 8, Columns: 1}
	if dict == nil {
		return p
	}
	if v, ok := dict.GetInt("Predictor"); ok {
		p.Predictor = int(v)
	}
	if v, ok := dict.GetInt("Colors"); ok && v > 0 {
		p.Colors = int(v)
	}
	if v, ok := dict.GetInt("BitsPerComponent"); ok && v > 0 {
		p.BitsPerComponent = int(v)
	}
	if v, ok := dict.GetInt("Columns"); ok && v > 0 {
		p.Columns = int(v)
	}
	return p
}

// DecodeStream applies every filter named in the stream dictionary in order.
func DecodeStream(stream *generic.StreamObject) ([]byte, error) {
	var names []string
	var parms []*generic.DictionaryObject

	switch f := stream.Dictionary.Get("Filter").(type) {
	case nil:
		return stream.Data, nil
	case generic.NameObject:
		names = []string{string(f)}
		parms = []*generic.DictionaryObject{stream.Dictionary.GetDict("DecodeParms")}
	case generic.ArrayObject:
		parmArr := stream.Dictionary.GetArray("DecodeParms")
		for i, item := range f {
			name, ok := item.(generic.NameObject)
			if !ok {
				return nil, fmt.Errorf("%w: filter entry %d is not a name", ErrUnsupportedFilter, i)
			}
			names = append(names, string(name))
			var d *generic.DictionaryObject
			if i < len(parmArr) {
				d, _ = parmArr[i].(*generic.DictionaryObject)
			}
			parms = append(parms, d)
		}
	default:
		return nil, fmt.Errorf("%w: /Filter has type %T", ErrUnsupportedFilter, f)
	}

	data := stream.Data
	for i, name := range names {
		var err error
		data, err = Decode(name, data, ParamsFromDict(parms[i]))
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Decode applies a single named filter.
func Decode(name string, data []byte, params Params) ([]byte, error) {
	switch name {
	case "FlateDecode", "Fl":
		out, err := inflate(data)
		if err != nil {
			return nil, err
		}
		return applyPredictor(out, params)
	case "ASCIIHexDecode", "AHx":
		return decodeASCIIHex(data)
	case "ASCII85Decode", "A85":
		return decodeASCII85(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
	}
}

// FlateEncode compresses data with zlib.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	// Truncated deflate data is common in the wild; keep what was read.
	return out, nil
}

func applyPredictor(data []byte, p Params) ([]byte, error) {
	switch {
	case p.Predictor <= 1:
		return data, nil
	case p.Predictor == 2:
		return decodeTIFFPredictor(data, p)
	case p.Predictor >= 10 && p.Predictor <= 15:
		bpp := (p.Colors*p.BitsPerComponent + 7) / 8
		rowLen := (p.Columns*p.Colors*p.BitsPerComponent + 7) / 8
		return decodePNGPredictor(data, rowLen, bpp)
	default:
		return nil, fmt.Errorf("%w: unknown predictor %d", ErrDecodeFailed, p.Predictor)
	}
}

// decodePNGPredictor undoes per-row PNG filtering. Each encoded row carries a
// leading filter type byte.
func decodePNGPredictor(data []byte, rowLen, bpp int) ([]byte, error) {
	if rowLen <= 0 {
		return nil, fmt.Errorf("%w: invalid predictor row length", ErrDecodeFailed)
	}
	stride := rowLen + 1
	output := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)

	for i := 0; i+stride <= len(data); i += stride {
		filterType := data[i]
		row := data[i+1 : i+stride]

		for j := range row {
			var left, upLeft byte
			if j >= bpp {
				left = cur[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]

			switch filterType {
			case 0:
				cur[j] = row[j]
			case 1:
				cur[j] = row[j] + left
			case 2:
				cur[j] = row[j] + up
			case 3:
				cur[j] = row[j] + byte((int(left)+int(up))/2)
			case 4:
				cur[j] = row[j] + paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("%w: invalid PNG filter type %d", ErrDecodeFailed, filterType)
			}
		}

		output = append(output, cur...)
		prev, cur = cur, prev
	}
	return output, nil
}

func decodeTIFFPredictor(data []byte, p Params) ([]byte, error) {
	if p.BitsPerComponent != 8 {
		return nil, fmt.Errorf("%w: TIFF predictor with %d bits per component", ErrDecodeFailed, p.BitsPerComponent)
	}
	rowLen := p.Columns * p.Colors
	out := append([]byte(nil), data...)
	for start := 0; start+rowLen <= len(out); start += rowLen {
		for j := p.Colors; j < rowLen; j++ {
			out[start+j] += out[start+j-p.Colors]
		}
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func decodeASCIIHex(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	for _, b := range data {
		if b == '>' {
			break
		}
		if generic.IsWhitespace(b) {
			continue
		}
		buf.WriteByte(b)
	}
	if buf.Len()%2 != 0 {
		buf.WriteByte('0')
	}
	out, err := hex.DecodeString(buf.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

func decodeASCII85(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(bytes.TrimSpace(data), []byte("<~"))
	if i := bytes.Index(data, []byte("~>")); i >= 0 {
		data = data[:i]
	}
	out := make([]byte, 4*len(data))
	n, _, err := ascii85.Decode(out, data, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out[:n], nil
}
