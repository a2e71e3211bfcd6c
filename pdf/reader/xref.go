package reader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/georgepadayatti/pdfsign/pdf/generic"
)

// XRefType is the kind of a cross-reference entry.
type XRefType int

const (
	// XRefTypeFree marks a free object number.
	XRefTypeFree XRefType = iota
	// XRefTypeStandard is a top-level object at a byte offset.
	XRefTypeStandard
	// XRefTypeInObjStream is an object stored inside an object stream.
	XRefTypeInObjStream
)

func (t XRefType) String() string {
	switch t {
	case XRefTypeFree:
		return "free"
	case XRefTypeStandard:
		return "standard"
	case XRefTypeInObjStream:
		return "in_obj_stream"
	default:
		return "unknown"
	}
}

// XRefEntry locates one object.
type XRefEntry struct {
	Type XRefType
	// Offset is the byte offset for standard entries.
	Offset     int64
	Generation int
	// StreamObjNum and IndexInStream are set for compressed entries.
	StreamObjNum  int
	IndexInStream int
}

// XRefSectionType distinguishes classic tables from xref streams.
type XRefSectionType int

const (
	// XRefSectionTypeTable is a classic "xref" table with trailer.
	XRefSectionTypeTable XRefSectionType = iota
	// XRefSectionTypeStream is a cross-reference stream (PDF 1.5+).
	XRefSectionTypeStream
)

// XRefSection is one cross-reference section of the file.
type XRefSection struct {
	Type    XRefSectionType
	Offset  int64
	Entries map[int]*XRefEntry
	Trailer *generic.TrailerDictionary
}

// parseXRefTable parses a classic table starting at the "xref" keyword.
func parseXRefTable(data []byte, offset int64) (*XRefSection, error) {
	pos := int(offset) + len("xref")
	section := &XRefSection{Type: XRefSectionTypeTable, Offset: offset, Entries: make(map[int]*XRefEntry)}

	for {
		pos = skipSpace(data, pos)
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: unterminated xref table", ErrInvalidXRef)
		}
		if bytes.HasPrefix(data[pos:], []byte("trailer")) {
			pos += len("trailer")
			break
		}

		start, next, err := readInt(data, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: bad subsection header: %v", ErrInvalidXRef, err)
		}
		count, next, err := readInt(data, skipSpace(data, next))
		if err != nil {
			return nil, fmt.Errorf("%w: bad subsection header: %v", ErrInvalidXRef, err)
		}
		pos = next

		for i := int64(0); i < count; i++ {
			pos = skipSpace(data, pos)
			off, next, err := readInt(data, pos)
			if err != nil {
				return nil, fmt.Errorf("%w: bad entry: %v", ErrInvalidXRef, err)
			}
			gen, next, err := readInt(data, skipSpace(data, next))
			if err != nil {
				return nil, fmt.Errorf("%w: bad entry: %v", ErrInvalidXRef, err)
			}
			next = skipSpace(data, next)
			if next >= len(data) || (data[next] != 'n' && data[next] != 'f') {
				return nil, fmt.Errorf("%w: bad entry type at offset %d", ErrInvalidXRef, next)
			}
			typ := XRefTypeStandard
			if data[next] == 'f' {
				typ = XRefTypeFree
			}
			pos = next + 1

			objNum := int(start + i)
			if _, dup := section.Entries[objNum]; !dup {
				section.Entries[objNum] = &XRefEntry{Type: typ, Offset: off, Generation: int(gen)}
			}
		}
	}

	p := generic.NewParserAt(data, int64(pos))
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", ErrInvalidXRef, err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrInvalidXRef)
	}
	section.Trailer = &generic.TrailerDictionary{DictionaryObject: dict}
	return section, nil
}

// parseXRefStreamEntries decodes the binary rows of an xref stream.
func parseXRefStreamEntries(dict *generic.DictionaryObject, decoded []byte) (map[int]*XRefEntry, error) {
	wArr := dict.GetArray("W")
	if len(wArr) != 3 {
		return nil, fmt.Errorf("%w: invalid /W array", ErrInvalidXRef)
	}
	var w [3]int
	for i, v := range wArr {
		n, ok := v.(generic.IntegerObject)
		if !ok || n < 0 || n > 8 {
			return nil, fmt.Errorf("%w: invalid /W entry", ErrInvalidXRef)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: zero width rows", ErrInvalidXRef)
	}

	var index []int64
	if arr := dict.GetArray("Index"); arr != nil {
		for _, v := range arr {
			n, ok := v.(generic.IntegerObject)
			if !ok {
				return nil, fmt.Errorf("%w: invalid /Index", ErrInvalidXRef)
			}
			index = append(index, int64(n))
		}
	} else {
		size, _ := dict.GetInt("Size")
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: odd /Index length", ErrInvalidXRef)
	}

	entries := make(map[int]*XRefEntry)
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(decoded) {
				return entries, nil
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen

			typ := int64(1)
			if w[0] > 0 {
				typ = readField(row, 0, w[0])
			}
			f2 := readField(row, w[0], w[1])
			f3 := readField(row, w[0]+w[1], w[2])

			objNum := int(start + j)
			if _, dup := entries[objNum]; dup {
				continue
			}
			switch typ {
			case 0:
				entries[objNum] = &XRefEntry{Type: XRefTypeFree, Offset: f2, Generation: int(f3)}
			case 1:
				entries[objNum] = &XRefEntry{Type: XRefTypeStandard, Offset: f2, Generation: int(f3)}
			case 2:
				entries[objNum] = &XRefEntry{Type: XRefTypeInObjStream, StreamObjNum: int(f2), IndexInStream: int(f3)}
			}
			// Unknown types are treated as references to the null object.
		}
	}
	return entries, nil
}

func readField(row []byte, offset, width int) int64 {
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(row[offset+i])
	}
	return v
}

func skipSpace(data []byte, pos int) int {
	for pos < len(data) && generic.IsWhitespace(data[pos]) {
		pos++
	}
	return pos
}

func readInt(data []byte, pos int) (int64, int, error) {
	start := pos
	for pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		pos++
	}
	if start == pos {
		return 0, pos, fmt.Errorf("expected integer at offset %d", start)
	}
	n, err := strconv.ParseInt(string(data[start:pos]), 10, 64)
	return n, pos, err
}

// WriteXRefTable writes a classic cross-reference table covering the given
// offsets. Consecutive object numbers are grouped into one subsection and
// object 0 is always emitted as the head of the free list.
func WriteXRefTable(w io.Writer, offsets map[int]int64) error {
	nums := sortedKeys(offsets)
	if _, err := io.WriteString(w, "xref\n"); err != nil {
		return err
	}
	if len(nums) == 0 || nums[0] != 0 {
		if _, err := io.WriteString(w, "0 1\n0000000000 65535 f \n"); err != nil {
			return err
		}
	}

	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		if _, err := fmt.Fprintf(w, "%d %d\n", nums[i], j-i); err != nil {
			return err
		}
		for _, n := range nums[i:j] {
			if _, err := fmt.Fprintf(w, "%010d %05d n \n", offsets[n], 0); err != nil {
				return err
			}
		}
		i = j
	}
	return nil
}

// BuildXRefStream builds an uncompressed cross-reference stream for the given
// offsets. The caller adds the trailer entries (/Root, /Prev, /ID ...).
func BuildXRefStream(offsets map[int]int64, size int) *generic.StreamObject {
	nums := sortedKeys(offsets)

	var maxOffset int64
	for _, off := range offsets {
		maxOffset = max(maxOffset, off)
	}
	w2 := bytesNeeded(maxOffset)

	var buf bytes.Buffer
	var index generic.ArrayObject
	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		index = append(index, generic.IntegerObject(nums[i]), generic.IntegerObject(j-i))
		for _, n := range nums[i:j] {
			buf.WriteByte(1)
			writeField(&buf, offsets[n], w2)
			writeField(&buf, 0, 2)
		}
		i = j
	}

	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XRef"))
	dict.Set("Size", generic.IntegerObject(size))
	dict.Set("Index", index)
	dict.Set("W", generic.NewArray(generic.IntegerObject(1), generic.IntegerObject(w2), generic.IntegerObject(2)))
	return generic.NewStream(dict, buf.Bytes())
}

func sortedKeys(m map[int]int64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func bytesNeeded(n int64) int {
	width := 1
	for n > 0xFF {
		width++
		n >>= 8
	}
	return width
}

func writeField(w *bytes.Buffer, value int64, width int) {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(value))
	w.Write(data[8-width:])
}
