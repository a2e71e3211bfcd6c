package fields

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/pdf/reader"
)

// DefaultFieldName is allocated when no Sig<N> field exists.
const DefaultFieldName = "Sig1"

var sigNamePattern = regexp.MustCompile(`^Sig(\d+)$`)

// Allocator picks the name of the next signature field.
type Allocator struct {
	Logger *zap.Logger
	// FixedName, when set, is returned unchanged. Whether it collides is
	// decided when the field is written.
	FixedName string
}

// Allocate returns Sig<N+1> where N is the largest index among existing
// Sig<N> signature fields. It only reads the document.
func (a *Allocator) Allocate(doc *reader.PdfFileReader) string {
	if a.FixedName != "" {
		return a.FixedName
	}
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxIndex := int64(0)
	for _, f := range Enumerate(doc, logger) {
		if !f.IsSignature() {
			continue
		}
		m := sigNamePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n <= 0 || n == math.MaxInt64 {
			logger.Debug("ignoring signature field index", zap.String("field", f.Name))
			continue
		}
		maxIndex = max(maxIndex, n)
	}

	if maxIndex == 0 {
		return DefaultFieldName
	}
	return fmt.Sprintf("Sig%d", maxIndex+1)
}
