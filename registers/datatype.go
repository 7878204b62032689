package registers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	ErrUnsupportedType = errors.New("unsupported data type")
	ErrInvalidValue    = errors.New("invalid value")
)

// DateTimeLayout is the layout used when decoding DATETIME registers.
const DateTimeLayout = "2006-01-02 15:04:05"

// DataType names the encoding of a register value, as written in the register tables.
type DataType string

const (
	Float32    DataType = "FLOAT32"
	FourQuadPF DataType = "4Q_FP_PF" // four quadrant power factor, transmitted as a float
	Int16      DataType = "INT16"
	Uint16     DataType = "INT16U"
	Int64      DataType = "INT64"
	DateTime   DataType = "DATETIME"
)

// SupportedTypes lists every data type the codec understands.
var SupportedTypes = []DataType{Float32, FourQuadPF, Int16, Uint16, Int64, DateTime}

// encoding describes how one data type is turned into bytes and back again.
type encoding struct {
	dataLength    int                               // the number of underlying bytes to represent the data type
	toBytesFunc   func(interface{}) ([]byte, error) // converts the concrete value into big endian bytes (used to write registers)
	fromBytesFunc func([]byte) interface{}          // converts big endian bytes into the concrete value (used to read registers)
}

var encodings = map[DataType]encoding{
	Float32:    floatEncoding,
	FourQuadPF: floatEncoding,
	Int16: {
		dataLength: 2,
		toBytesFunc: func(val interface{}) ([]byte, error) {
			i, err := toInt64(val)
			if err != nil {
				return nil, err
			}
			if i < math.MinInt16 || i > math.MaxInt16 {
				return nil, fmt.Errorf("%w: %d overflows INT16", ErrInvalidValue, i)
			}
			return binary.BigEndian.AppendUint16(nil, uint16(int16(i))), nil
		},
		fromBytesFunc: func(b []byte) interface{} {
			return int64(int16(binary.BigEndian.Uint16(b)))
		},
	},
	Uint16: {
		dataLength: 2,
		toBytesFunc: func(val interface{}) ([]byte, error) {
			i, err := toInt64(val)
			if err != nil {
				return nil, err
			}
			if i < 0 || i > math.MaxUint16 {
				return nil, fmt.Errorf("%w: %d overflows INT16U", ErrInvalidValue, i)
			}
			return binary.BigEndian.AppendUint16(nil, uint16(i)), nil
		},
		fromBytesFunc: func(b []byte) interface{} {
			return int64(binary.BigEndian.Uint16(b))
		},
	},
	Int64: {
		dataLength: 8,
		toBytesFunc: func(val interface{}) ([]byte, error) {
			i, err := toInt64(val)
			if err != nil {
				return nil, err
			}
			return binary.BigEndian.AppendUint64(nil, uint64(i)), nil
		},
		fromBytesFunc: func(b []byte) interface{} {
			return int64(binary.BigEndian.Uint64(b))
		},
	},
	DateTime: {
		dataLength: 8,
		toBytesFunc: func(val interface{}) ([]byte, error) {
			i, err := toInt64(val)
			if err != nil {
				return nil, err
			}
			if i < 0 {
				return nil, fmt.Errorf("%w: negative timestamp %d", ErrInvalidValue, i)
			}
			return binary.BigEndian.AppendUint64(nil, uint64(i)), nil
		},
		fromBytesFunc: func(b []byte) interface{} {
			secs := binary.BigEndian.Uint64(b)
			return time.Unix(int64(secs), 0).Local().Format(DateTimeLayout)
		},
	},
}

var floatEncoding = encoding{
	dataLength: 4,
	toBytesFunc: func(val interface{}) ([]byte, error) {
		f, err := toFloat64(val)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v is outside the FLOAT32 range", ErrInvalidValue, f)
		}
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	},
	fromBytesFunc: func(b []byte) interface{} {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	},
}

// Supported reports whether the codec knows how to encode the data type.
func (t DataType) Supported() bool {
	_, ok := encodings[t]
	return ok
}

// Words returns the number of 16 bit registers occupied by the data type, or 0 if it is not supported.
func (t DataType) Words() int {
	enc, ok := encodings[t]
	if !ok {
		return 0
	}
	return enc.dataLength / 2
}

func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v (%T) is not a number", ErrInvalidValue, val, val)
	}
}

// toInt64 converts the value to an integer, truncating floats toward zero.
func toInt64(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, nil
		}
	}

	f, err := toFloat64(val)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v is out of integer range", ErrInvalidValue, val)
	}
	return int64(f), nil
}
