package vm

// String size classes. The class only affects allocation; every observable
// operation goes through stringBytes and sees the same content.
const (
	shortStrMax = 14 // stored inline in the Value
	midStrMax   = 47 // one shared fixed-size buffer
)

type strClass uint8

const (
	strShort strClass = iota
	strMid
	strLong
)

// midString is shared by every copy of a Value that holds it.
type midString struct {
	n   uint8
	buf [midStrMax]byte
}

// longString is shared by every copy of a Value that holds it.
type longString struct {
	b []byte
}

// FromBytes creates a String value holding a copy of b, using the smallest
// size class that fits.
func FromBytes(b []byte) Value {
	switch n := len(b); {
	case n <= shortStrMax:
		v := Value{kind: KindString, n: uint8(n)}
		copy(v.short[:], b)
		return v
	case n <= midStrMax:
		m := &midString{n: uint8(n)}
		copy(m.buf[:], b)
		return Value{kind: KindString, ref: m}
	default:
		return Value{kind: KindString, ref: &longString{b: append([]byte(nil), b...)}}
	}
}

// FromString creates a String value from a Go string.
func FromString(s string) Value {
	return FromBytes([]byte(s))
}

// stringBytes returns the content of a String value.
func (v *Value) stringBytes() []byte {
	switch s := v.ref.(type) {
	case nil:
		return v.short[:v.n]
	case *midString:
		return s.buf[:s.n]
	case *longString:
		return s.b
	}
	panic("vm: corrupt string value")
}

// sizeClass reports the representation chosen for a String value.
func (v Value) sizeClass() strClass {
	switch v.ref.(type) {
	case *midString:
		return strMid
	case *longString:
		return strLong
	}
	return strShort
}
