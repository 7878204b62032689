package registers

import (
	"encoding/binary"
	"fmt"
)

// WordOrder is the order in which the 16 bit words of a multi-word value are placed in consecutive registers.
// Bytes within a word are always big endian.
type WordOrder uint8

const (
	WordOrderLittle WordOrder = iota // least significant word first (the meter's convention)
	WordOrderBig                     // most significant word first
)

// ParseWordOrder converts the configuration names "little" and "big" into a WordOrder.
func ParseWordOrder(name string) (WordOrder, error) {
	switch name {
	case "", "little":
		return WordOrderLittle, nil
	case "big":
		return WordOrderBig, nil
	default:
		return WordOrderLittle, fmt.Errorf("unknown word order '%s'", name)
	}
}

func (o WordOrder) String() string {
	if o == WordOrderBig {
		return "big"
	}
	return "little"
}

// Codec converts values to and from the register words that hold them.
type Codec struct {
	wordOrder WordOrder
}

func NewCodec(wordOrder WordOrder) Codec {
	return Codec{wordOrder: wordOrder}
}

func (c Codec) WordOrder() WordOrder {
	return c.wordOrder
}

// Encode returns the words that represent `val` as the given data type.
func (c Codec) Encode(val interface{}, dataType DataType) ([]uint16, error) {
	enc, ok := encodings[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedType, dataType)
	}

	bytes, err := enc.toBytesFunc(val)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dataType, err)
	}

	words := make([]uint16, len(bytes)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(bytes[i*2 : i*2+2])
	}
	if c.wordOrder == WordOrderLittle {
		reverse(words)
	}
	return words, nil
}

// Decode interprets the words as the given data type. Floats decode to float64, integers to int64 and DATETIME
// to a local time string.
func (c Codec) Decode(words []uint16, dataType DataType) (interface{}, error) {
	enc, ok := encodings[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedType, dataType)
	}
	if len(words)*2 != enc.dataLength {
		return nil, fmt.Errorf("decode %s: expected %d words, got %d", dataType, enc.dataLength/2, len(words))
	}

	bytes := make([]byte, enc.dataLength)
	for i, word := range words {
		loc := i * 2
		if c.wordOrder == WordOrderLittle {
			loc = enc.dataLength - 2 - i*2
		}
		binary.BigEndian.PutUint16(bytes[loc:loc+2], word)
	}

	return enc.fromBytesFunc(bytes), nil
}

func reverse(words []uint16) {
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
}
