package pickle

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// Encoder writes a protocol 2 stream the Decoder accepts. It covers the
// value shapes the sample-artifact generator and the tests need; it is not
// a general-purpose pickler.
type Encoder struct {
	w   io.Writer
	err error

	// EightBitStrings emits strings through the 8-bit string opcodes
	// instead of the unicode ones, so the result is only decodable under
	// a compatible string mode.
	EightBitStrings bool
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one complete stream: header, value, STOP.
func (e *Encoder) Encode(v any) error {
	e.raw(opProto, 2)
	e.value(v)
	e.raw(opStop)
	return e.err
}

func (e *Encoder) value(v any) {
	switch x := v.(type) {
	case nil:
		e.raw(opNone)
	case bool:
		if x {
			e.raw(opNewTrue)
		} else {
			e.raw(opNewFalse)
		}
	case int:
		e.int64(int64(x))
	case int64:
		e.int64(x)
	case float64:
		var buf [9]byte
		buf[0] = opBinFloat
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(x))
		e.write(buf[:])
	case string:
		e.str(x)
	case []byte:
		e.raw(opBinBytes)
		e.u32(len(x))
		e.write(x)
	case []float64:
		e.raw(opMark)
		for _, f := range x {
			e.value(f)
		}
		e.raw(opList)
	case []int:
		e.raw(opMark)
		for _, n := range x {
			e.value(n)
		}
		e.raw(opList)
	case []string:
		e.raw(opMark)
		for _, s := range x {
			e.value(s)
		}
		e.raw(opList)
	case []any:
		e.raw(opMark)
		for _, item := range x {
			e.value(item)
		}
		e.raw(opList)
	case Tuple:
		e.raw(opMark)
		for _, item := range x {
			e.value(item)
		}
		e.raw(opTuple)
	case map[string]any:
		e.raw(opEmptyDict, opMark)
		for _, k := range sortedKeys(x) {
			e.value(k)
			e.value(x[k])
		}
		e.raw(opSetItems)
	case *Object:
		e.object(x)
	default:
		e.fail(fmt.Errorf("pickle: cannot encode %T", v))
	}
}

// object emits GLOBAL args REDUCE, then BUILD with the state when present.
func (e *Encoder) object(o *Object) {
	e.raw(opGlobal)
	e.line(o.Module)
	e.line(o.Name)
	e.value(Tuple(o.Args))
	e.raw(opReduce)
	if o.State != nil {
		e.value(o.State)
		e.raw(opBuild)
	} else if len(o.Fields) > 0 {
		state := make(map[string]any, len(o.Fields))
		for k, v := range o.Fields {
			state[k] = v
		}
		e.value(state)
		e.raw(opBuild)
	}
}

func (e *Encoder) str(s string) {
	if e.EightBitStrings {
		// Emit the latin1 byte form; code points above 0xff cannot be
		// represented this way.
		raw := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xff {
				e.fail(fmt.Errorf("pickle: %q not representable as 8-bit string", s))
				return
			}
			raw = append(raw, byte(r))
		}
		if len(raw) < 256 {
			e.raw(opShortBinString, byte(len(raw)))
		} else {
			e.raw(opBinString)
			e.u32(len(raw))
		}
		e.write(raw)
		return
	}
	e.raw(opBinUnicode)
	e.u32(len(s))
	e.write([]byte(s))
}

func (e *Encoder) int64(v int64) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		var buf [5]byte
		buf[0] = opBinInt
		binary.LittleEndian.PutUint32(buf[1:], uint32(int32(v)))
		e.write(buf[:])
		return
	}
	var buf [10]byte
	buf[0] = opLong1
	buf[1] = 8
	binary.LittleEndian.PutUint64(buf[2:], uint64(v))
	e.write(buf[:])
}

func (e *Encoder) line(s string) {
	e.write([]byte(s))
	e.raw('\n')
}

func (e *Encoder) u32(n int) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	e.write(buf[:])
}

func (e *Encoder) raw(b ...byte) { e.write(b) }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
