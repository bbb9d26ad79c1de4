package scan

import (
	"fmt"
	"sort"
	"strings"
)

// Symbology identifies a code format.
type Symbology string

const (
	QR         Symbology = "QR"
	EAN13      Symbology = "EAN13"
	EAN8       Symbology = "EAN8"
	UPCA       Symbology = "UPCA"
	UPCE       Symbology = "UPCE"
	Code39     Symbology = "CODE39"
	Code93     Symbology = "CODE93"
	Code128    Symbology = "CODE128"
	ITF        Symbology = "ITF"
	Codabar    Symbology = "CODABAR"
	PDF417     Symbology = "PDF417"
	Aztec      Symbology = "AZTEC"
	DataMatrix Symbology = "DATAMATRIX"
)

// AllSymbologies lists every known symbology in declaration order.
var AllSymbologies = []Symbology{
	QR, EAN13, EAN8, UPCA, UPCE, Code39, Code93, Code128, ITF, Codabar, PDF417, Aztec, DataMatrix,
}

// String returns the canonical upper-case name.
func (s Symbology) String() string {
	return string(s)
}

// IsTwoDimensional reports whether the symbology is a matrix code.
func (s Symbology) IsTwoDimensional() bool {
	switch s {
	case QR, PDF417, Aztec, DataMatrix:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known symbologies.
func (s Symbology) Valid() bool {
	for _, known := range AllSymbologies {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSymbology parses a symbology name. Matching is case-insensitive and
// ignores '-', '_' and spaces, so "ean-13", "EAN_13" and "Ean13" all parse.
// "QRCODE" is accepted as an alias for QR.
func ParseSymbology(name string) (Symbology, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)

	switch key {
	case "QRCODE":
		return QR, nil
	case "ITF14", "INTERLEAVED2OF5", "I2/5":
		return ITF, nil
	}

	sym := Symbology(key)
	if !sym.Valid() {
		return "", fmt.Errorf("unknown symbology %q", name)
	}
	return sym, nil
}

// Filter is an immutable set of allowed symbologies.
// The zero value allows nothing.
type Filter struct {
	set map[Symbology]struct{}
}

// NewFilter builds a filter from the given symbologies. Duplicates are ignored.
func NewFilter(syms ...Symbology) Filter {
	set := make(map[Symbology]struct{}, len(syms))
	for _, s := range syms {
		set[s] = struct{}{}
	}
	return Filter{set: set}
}

// DefaultFilter returns the symbologies the scanner recognizes out of the box.
func DefaultFilter() Filter {
	return NewFilter(UPCE, Code39, EAN13, EAN8, Code93, Code128, PDF417, QR, Aztec)
}

// ParseFilter parses a list of symbology names into a filter.
func ParseFilter(names []string) (Filter, error) {
	syms := make([]Symbology, 0, len(names))
	for _, n := range names {
		s, err := ParseSymbology(n)
		if err != nil {
			return Filter{}, err
		}
		syms = append(syms, s)
	}
	return NewFilter(syms...), nil
}

// Allows reports whether s is in the filter.
func (f Filter) Allows(s Symbology) bool {
	_, ok := f.set[s]
	return ok
}

// Len returns the number of allowed symbologies.
func (f Filter) Len() int {
	return len(f.set)
}

// List returns the allowed symbologies sorted by name.
func (f Filter) List() []Symbology {
	out := make([]Symbology, 0, len(f.set))
	for s := range f.set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the filter as a comma-separated list.
func (f Filter) String() string {
	list := f.List()
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}
