package schema

import "fmt"

// Elem identifies the primitive element type of a field.
type Elem uint8

const (
	ElemInvalid Elem = iota
	ElemInt8
	ElemInt16
	ElemInt32
	ElemInt64
	ElemUint8
	ElemUint16
	ElemUint32
	ElemUint64
	ElemFloat32
	ElemFloat64
	// ElemWord is the 64-bit storage word of bitset fields.
	ElemWord
)

var elemNames = [...]string{
	ElemInvalid: "invalid",
	ElemInt8:    "int8",
	ElemInt16:   "int16",
	ElemInt32:   "int32",
	ElemInt64:   "int64",
	ElemUint8:   "uint8",
	ElemUint16:  "uint16",
	ElemUint32:  "uint32",
	ElemUint64:  "uint64",
	ElemFloat32: "float32",
	ElemFloat64: "float64",
	ElemWord:    "word",
}

func (e Elem) String() string {
	if int(e) < len(elemNames) {
		return elemNames[e]
	}
	return fmt.Sprintf("Elem(%d)", uint8(e))
}

// Size returns the element width in bytes.
func (e Elem) Size() int {
	switch e {
	case ElemInt8, ElemUint8:
		return 1
	case ElemInt16, ElemUint16:
		return 2
	case ElemInt32, ElemUint32, ElemFloat32:
		return 4
	case ElemInt64, ElemUint64, ElemFloat64, ElemWord:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether e is a floating point type.
func (e Elem) IsFloat() bool {
	return e == ElemFloat32 || e == ElemFloat64
}

// Numeric is the set of element types a Number field can hold.
type Numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

func elemOf[T Numeric]() Elem {
	var z T
	switch any(z).(type) {
	case int8:
		return ElemInt8
	case int16:
		return ElemInt16
	case int32:
		return ElemInt32
	case int64:
		return ElemInt64
	case uint8:
		return ElemUint8
	case uint16:
		return ElemUint16
	case uint32:
		return ElemUint32
	case uint64:
		return ElemUint64
	case float32:
		return ElemFloat32
	case float64:
		return ElemFloat64
	}
	return ElemInvalid
}

// Kind is the closed set of field kinds.
type Kind uint8

const (
	KindNumber Kind = iota + 1
	KindBitset
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBitset:
		return "bitset"
	case KindComposite:
		return "composite"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}
