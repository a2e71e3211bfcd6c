package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Common errors
var (
	ErrInvalidPDF        = errors.New("invalid PDF format")
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidStream     = errors.New("invalid PDF stream")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
)

// maxNesting bounds array and dictionary depth.
const maxNesting = 256

// LengthResolver resolves an indirect /Length entry of a stream.
type LengthResolver func(ref Reference) (int64, bool)

// Parser parses PDF objects from an in-memory byte slice.
type Parser struct {
	data  []byte
	pos   int64
	depth int

	// ResolveLength is consulted when a stream's /Length is an indirect
	// reference. Without it the parser scans for "endstream".
	ResolveLength LengthResolver
}

// NewParserFromBytes creates a parser positioned at the start of data.
func NewParserFromBytes(data []byte) *Parser {
	return &Parser{data: data}
}

// NewParserAt creates a parser positioned at offset.
func NewParserAt(data []byte, offset int64) *Parser {
	return &Parser{data: data, pos: offset}
}

// Pos returns the current offset.
func (p *Parser) Pos() int64 { return p.pos }

// Seek moves the parser to an absolute offset.
func (p *Parser) Seek(pos int64) { p.pos = pos }

func (p *Parser) readByte() (byte, error) {
	if p.pos >= int64(len(p.data)) {
		return 0, io.EOF
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *Parser) peekByte() (byte, error) {
	if p.pos >= int64(len(p.data)) {
		return 0, io.EOF
	}
	return p.data[p.pos], nil
}

// SkipWhitespace skips whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		switch {
		case IsWhitespace(b):
			p.pos++
		case b == '%':
			for p.pos < int64(len(p.data)) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

// IsWhitespace reports whether b is PDF whitespace.
func IsWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\x00' || b == '\x0c'
}

func isDelimiter(b byte) bool {
	return b == '(' || b == ')' || b == '<' || b == '>' ||
		b == '[' || b == ']' || b == '{' || b == '}' ||
		b == '/' || b == '%'
}

// ReadToken reads a run of regular characters.
func (p *Parser) ReadToken() string {
	p.SkipWhitespace()
	start := p.pos
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		if IsWhitespace(b) || isDelimiter(b) {
			break
		}
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses a direct object. Integers are never combined into
// references; use ParseObjectOrReference for that.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()
	b, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrInvalidObject)
	}

	switch b {
	case '(':
		return p.parseString()
	case '<':
		return p.parseHexOrDict()
	case '[':
		return p.parseArray()
	case '/':
		return p.parseName()
	case 't', 'f':
		return p.parseBoolean()
	case 'n':
		return p.parseNull()
	default:
		if b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9') {
			return p.parseNumber()
		}
		return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrInvalidObject, b, p.pos)
	}
}

func (p *Parser) parseString() (*StringObject, error) {
	p.pos++ // '('
	var buf bytes.Buffer
	depth := 1

	for depth > 0 {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}

		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(b)
			}
		case '\\':
			escaped, err := p.readByte()
			if err != nil {
				return nil, fmt.Errorf("%w: unterminated escape", ErrInvalidString)
			}
			switch escaped {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				// Line continuation, optionally CRLF.
				if next, err := p.peekByte(); err == nil && next == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if escaped >= '0' && escaped <= '7' {
					val := int(escaped - '0')
					for i := 0; i < 2; i++ {
						next, err := p.peekByte()
						if err != nil || next < '0' || next > '7' {
							break
						}
						p.pos++
						val = val*8 + int(next-'0')
					}
					buf.WriteByte(byte(val))
				} else {
					buf.WriteByte(escaped)
				}
			}
		default:
			buf.WriteByte(b)
		}
	}

	return &StringObject{Value: buf.Bytes()}, nil
}

func (p *Parser) parseHexOrDict() (PdfObject, error) {
	p.pos++ // '<'
	if next, err := p.peekByte(); err == nil && next == '<' {
		p.pos++
		return p.parseDictionary()
	}
	return p.parseHexString()
}

func (p *Parser) parseHexString() (*StringObject, error) {
	var buf bytes.Buffer
	for {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
		}
		if b == '>' {
			break
		}
		if IsWhitespace(b) {
			continue
		}
		buf.WriteByte(b)
	}

	if buf.Len()%2 != 0 {
		buf.WriteByte('0')
	}
	data, err := hex.DecodeString(buf.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: data, IsHex: true}, nil
}

// parseDictionary parses a dictionary after "<<" has been consumed.
func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	if p.depth++; p.depth > maxNesting {
		return nil, fmt.Errorf("%w: nesting too deep", ErrInvalidDictionary)
	}
	defer func() { p.depth-- }()

	dict := NewDictionary()
	for {
		p.SkipWhitespace()
		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}

		if b == '>' {
			p.pos++
			if next, err := p.readByte(); err != nil || next != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			return dict, nil
		}

		key, err := p.parseName()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid key: %v", ErrInvalidDictionary, err)
		}
		value, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value for key %q: %v", ErrInvalidDictionary, string(key), err)
		}
		// A null value is equivalent to an absent entry.
		if _, isNull := value.(NullObject); isNull {
			continue
		}
		dict.Set(string(key), value)
	}
}

func (p *Parser) parseArray() (ArrayObject, error) {
	if p.depth++; p.depth > maxNesting {
		return nil, fmt.Errorf("%w: nesting too deep", ErrInvalidArray)
	}
	defer func() { p.depth-- }()

	p.pos++ // '['
	arr := ArrayObject{}
	for {
		p.SkipWhitespace()
		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidArray)
		}
		if b == ']' {
			p.pos++
			return arr, nil
		}

		obj, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArray, err)
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseName() (NameObject, error) {
	p.SkipWhitespace()
	if b, err := p.readByte(); err != nil || b != '/' {
		return "", ErrInvalidName
	}

	var buf bytes.Buffer
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		if IsWhitespace(b) || isDelimiter(b) {
			break
		}
		p.pos++
		if b == '#' && p.pos+2 <= int64(len(p.data)) {
			val, err := strconv.ParseUint(string(p.data[p.pos:p.pos+2]), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: invalid hex escape", ErrInvalidName)
			}
			p.pos += 2
			buf.WriteByte(byte(val))
			continue
		}
		buf.WriteByte(b)
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) parseBoolean() (BooleanObject, error) {
	switch token := p.ReadToken(); token {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: expected boolean, got %q", ErrInvalidObject, token)
	}
}

func (p *Parser) parseNull() (NullObject, error) {
	if token := p.ReadToken(); token != "null" {
		return NullObject{}, fmt.Errorf("%w: expected null, got %q", ErrInvalidObject, token)
	}
	return NullObject{}, nil
}

func (p *Parser) parseNumber() (PdfObject, error) {
	p.SkipWhitespace()
	start := p.pos
	hasDecimal := false
scan:
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		switch {
		case b >= '0' && b <= '9':
		case b == '.' && !hasDecimal:
			hasDecimal = true
		case (b == '-' || b == '+') && p.pos == start:
		default:
			break scan
		}
		p.pos++
	}
	str := string(p.data[start:p.pos])
	if str == "" || str == "-" || str == "+" || str == "." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, str)
	}

	if hasDecimal {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return RealObject(val), nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return IntegerObject(val), nil
}

// ParseObjectOrReference parses an object, recognising "N G R" references.
func (p *Parser) ParseObjectOrReference() (PdfObject, error) {
	p.SkipWhitespace()
	b, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrInvalidObject)
	}
	if b < '0' || b > '9' {
		return p.ParseObject()
	}

	startPos := p.pos
	first, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	objNum, ok := first.(IntegerObject)
	if !ok {
		return first, nil
	}

	afterFirst := p.pos
	p.SkipWhitespace()
	if b, err := p.peekByte(); err != nil || b < '0' || b > '9' {
		p.pos = afterFirst
		return first, nil
	}
	second, err := p.parseNumber()
	genNum, ok := second.(IntegerObject)
	if err != nil || !ok {
		p.pos = afterFirst
		return first, nil
	}

	p.SkipWhitespace()
	if b, err := p.peekByte(); err == nil && b == 'R' {
		next := p.pos + 1
		if next >= int64(len(p.data)) || IsWhitespace(p.data[next]) || isDelimiter(p.data[next]) {
			p.pos = next
			return Reference{ObjectNumber: int(objNum), GenerationNumber: int(genNum)}, nil
		}
	}

	p.pos = startPos
	return p.parseNumber()
}

// ParseIndirectObject parses "N G obj ... endobj" at the current offset.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	numObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid object number: %v", ErrInvalidObject, err)
	}
	genObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid generation number: %v", ErrInvalidObject, err)
	}
	objNum, ok1 := numObj.(IntegerObject)
	genNum, ok2 := genObj.(IntegerObject)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: object header must be integers", ErrInvalidObject)
	}
	if token := p.ReadToken(); token != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got %q", ErrInvalidObject, token)
	}

	obj, err := p.ParseObjectOrReference()
	if err != nil {
		return nil, err
	}

	if dict, ok := obj.(*DictionaryObject); ok {
		p.SkipWhitespace()
		save := p.pos
		if p.ReadToken() == "stream" {
			stream, err := p.parseStreamBody(dict)
			if err != nil {
				return nil, err
			}
			obj = stream
		} else {
			p.pos = save
		}
	}

	// Some writers omit endobj; tolerate that.
	save := p.pos
	if p.ReadToken() != "endobj" {
		p.pos = save
	}

	return NewIndirectObject(int(objNum), int(genNum), obj), nil
}

// parseStreamBody reads stream data after the "stream" keyword.
func (p *Parser) parseStreamBody(dict *DictionaryObject) (*StreamObject, error) {
	if b, err := p.peekByte(); err == nil && b == '\r' {
		p.pos++
	}
	if b, err := p.peekByte(); err == nil && b == '\n' {
		p.pos++
	}
	start := p.pos

	length := int64(-1)
	switch l := dict.Get("Length").(type) {
	case IntegerObject:
		length = int64(l)
	case Reference:
		if p.ResolveLength != nil {
			if n, ok := p.ResolveLength(l); ok {
				length = n
			}
		}
	}

	if length >= 0 && start+length <= int64(len(p.data)) && p.endstreamAt(start+length) {
		data := p.data[start : start+length]
		p.pos = start + length
		p.ReadToken() // endstream
		return NewStream(dict, append([]byte(nil), data...)), nil
	}

	// Length missing or wrong: locate the keyword instead.
	idx := bytes.Index(p.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing endstream", ErrInvalidStream)
	}
	end := start + int64(idx)
	data := p.data[start:end]
	data = bytes.TrimSuffix(data, []byte("\n"))
	data = bytes.TrimSuffix(data, []byte("\r"))
	p.pos = end + int64(len("endstream"))
	return NewStream(dict, append([]byte(nil), data...)), nil
}

func (p *Parser) endstreamAt(pos int64) bool {
	for pos < int64(len(p.data)) && IsWhitespace(p.data[pos]) {
		pos++
	}
	return bytes.HasPrefix(p.data[pos:], []byte("endstream"))
}

// ParseRectangle parses a rectangle from an array object.
func ParseRectangle(obj PdfObject) (*Rectangle, error) {
	arr, ok := obj.(ArrayObject)
	if !ok {
		return nil, fmt.Errorf("expected array for rectangle")
	}
	return NewRectangle(arr)
}
