package model

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"xaiviz/internal/pickle"
)

// Dtype describes the element type of a decoded array. Structured dtypes
// keep their field table so record arrays can be picked apart by name.
type Dtype struct {
	Kind      byte // 'f', 'i', 'u', 'b', 'U', 'S', 'V'
	ItemSize  int  // bytes per element
	BigEndian bool

	Names  []string
	Fields map[string]DtypeField
}

// DtypeField is one member of a structured dtype.
type DtypeField struct {
	Dtype  *Dtype
	Offset int
}

func newDtype(args pickle.Tuple) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("dtype needs a type string")
	}
	descr, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("dtype type string is %T", args[0])
	}
	return parseDtype(descr)
}

func parseDtype(descr string) (*Dtype, error) {
	d := &Dtype{}
	if descr == "" {
		return nil, fmt.Errorf("empty dtype")
	}
	switch descr[0] {
	case '<', '|', '=':
		descr = descr[1:]
	case '>':
		d.BigEndian = true
		descr = descr[1:]
	}
	if descr == "" {
		return nil, fmt.Errorf("bad dtype %q", descr)
	}
	d.Kind = descr[0]
	size := 0
	if len(descr) > 1 {
		n, err := strconv.Atoi(descr[1:])
		if err != nil {
			return nil, fmt.Errorf("bad dtype %q", descr)
		}
		size = n
	}
	switch d.Kind {
	case 'f', 'i', 'u':
		if size == 0 {
			size = 8
		}
		d.ItemSize = size
	case 'b':
		d.ItemSize = 1
	case 'U':
		d.ItemSize = size * 4 // UCS-4 code units
	case 'S', 'V':
		d.ItemSize = size
	case 'O':
		return nil, fmt.Errorf("object dtype has no raw representation")
	default:
		return nil, fmt.Errorf("unsupported dtype kind %q", string(d.Kind))
	}
	return d, nil
}

// SetPickleState absorbs the reduce state of a dtype, which carries the
// field table for structured types.
func (d *Dtype) SetPickleState(state any) error {
	st, ok := state.(pickle.Tuple)
	if !ok || len(st) < 7 {
		return fmt.Errorf("bad dtype state %T", state)
	}
	if bo, ok := st[1].(string); ok && bo == ">" {
		d.BigEndian = true
	}
	if names, ok := asLabels(st[3]); ok && len(names) > 0 {
		d.Names = names
	}
	if fields, ok := st[4].(map[any]any); ok && len(fields) > 0 {
		d.Fields = make(map[string]DtypeField, len(fields))
		for k, v := range fields {
			name, ok := k.(string)
			if !ok {
				continue
			}
			spec, ok := v.(pickle.Tuple)
			if !ok || len(spec) < 2 {
				return fmt.Errorf("bad dtype field %q", name)
			}
			ft, ok := spec[0].(*Dtype)
			if !ok {
				return fmt.Errorf("bad dtype field %q", name)
			}
			off, ok := asInt(spec[1])
			if !ok {
				return fmt.Errorf("bad dtype field offset for %q", name)
			}
			d.Fields[name] = DtypeField{Dtype: ft, Offset: off}
		}
	}
	if elsize, ok := asInt(st[5]); ok && elsize > 0 {
		d.ItemSize = elsize
	}
	return nil
}

// NDArray is a decoded n-dimensional array. Numeric content is flattened
// into Floats (C order); string content into Strings; structured records
// stay raw alongside their dtype.
type NDArray struct {
	Shape []int
	Dtype *Dtype

	Floats  []float64
	Strings []string
	Raw     []byte
}

// Len returns the number of elements.
func (a *NDArray) Len() int {
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	return n
}

// Matrix views a 2-D numeric array as rows. 1-D arrays come back as a
// single row.
func (a *NDArray) Matrix() ([][]float64, bool) {
	if a.Floats == nil {
		return nil, false
	}
	switch len(a.Shape) {
	case 1:
		return [][]float64{a.Floats}, true
	case 2:
		rows, cols := a.Shape[0], a.Shape[1]
		if rows*cols != len(a.Floats) {
			return nil, false
		}
		out := make([][]float64, rows)
		for i := range out {
			out[i] = a.Floats[i*cols : (i+1)*cols]
		}
		return out, true
	default:
		return nil, false
	}
}

func reconstructNDArray(args pickle.Tuple) (any, error) {
	// args: (subtype, shape, data) — all superseded by the build state.
	return &NDArray{}, nil
}

// SetPickleState absorbs the reduce state written by the array protocol:
// (version, shape, dtype, fortran_order, data).
func (a *NDArray) SetPickleState(state any) error {
	st, ok := state.(pickle.Tuple)
	if !ok || len(st) < 5 {
		return fmt.Errorf("bad ndarray state %T", state)
	}
	shape, ok := asInts(st[1])
	if !ok {
		return fmt.Errorf("bad ndarray shape %T", st[1])
	}
	dt, ok := st[2].(*Dtype)
	if !ok {
		return fmt.Errorf("bad ndarray dtype %T", st[2])
	}
	if fortran, ok := st[3].(bool); ok && fortran && len(shape) > 1 {
		return fmt.Errorf("fortran-order arrays are not supported")
	}
	a.Shape = shape
	a.Dtype = dt
	switch data := st[4].(type) {
	case []byte:
		return a.fill(data)
	case []any:
		// Object arrays serialize their elements inline.
		floats, ok := sliceToFloats(data)
		if ok {
			a.Floats = floats
			return nil
		}
		labels, ok := itemsToLabels(data)
		if !ok {
			return fmt.Errorf("unsupported object array content")
		}
		a.Strings = labels
		return nil
	default:
		return fmt.Errorf("bad ndarray data %T", st[4])
	}
}

func (a *NDArray) fill(raw []byte) error {
	count := a.Len()
	dt := a.Dtype
	if dt.ItemSize <= 0 || len(raw) < count*dt.ItemSize {
		return fmt.Errorf("array data is %d bytes, want %d", len(raw), count*dt.ItemSize)
	}
	order := byteOrder(dt)
	switch dt.Kind {
	case 'f':
		a.Floats = make([]float64, count)
		for i := 0; i < count; i++ {
			chunk := raw[i*dt.ItemSize:]
			switch dt.ItemSize {
			case 8:
				a.Floats[i] = math.Float64frombits(order.Uint64(chunk))
			case 4:
				a.Floats[i] = float64(math.Float32frombits(order.Uint32(chunk)))
			default:
				return fmt.Errorf("unsupported float width %d", dt.ItemSize)
			}
		}
	case 'i':
		a.Floats = make([]float64, count)
		for i := 0; i < count; i++ {
			chunk := raw[i*dt.ItemSize:]
			switch dt.ItemSize {
			case 8:
				a.Floats[i] = float64(int64(order.Uint64(chunk)))
			case 4:
				a.Floats[i] = float64(int32(order.Uint32(chunk)))
			case 2:
				a.Floats[i] = float64(int16(order.Uint16(chunk)))
			case 1:
				a.Floats[i] = float64(int8(chunk[0]))
			default:
				return fmt.Errorf("unsupported int width %d", dt.ItemSize)
			}
		}
	case 'u', 'b':
		a.Floats = make([]float64, count)
		for i := 0; i < count; i++ {
			chunk := raw[i*dt.ItemSize:]
			switch dt.ItemSize {
			case 8:
				a.Floats[i] = float64(order.Uint64(chunk))
			case 4:
				a.Floats[i] = float64(order.Uint32(chunk))
			case 2:
				a.Floats[i] = float64(order.Uint16(chunk))
			case 1:
				a.Floats[i] = float64(chunk[0])
			default:
				return fmt.Errorf("unsupported uint width %d", dt.ItemSize)
			}
		}
	case 'U':
		a.Strings = make([]string, count)
		for i := 0; i < count; i++ {
			chunk := raw[i*dt.ItemSize : (i+1)*dt.ItemSize]
			var b strings.Builder
			for j := 0; j+4 <= len(chunk); j += 4 {
				r := rune(order.Uint32(chunk[j:]))
				if r == 0 {
					break
				}
				b.WriteRune(r)
			}
			a.Strings[i] = b.String()
		}
	case 'S':
		a.Strings = make([]string, count)
		for i := 0; i < count; i++ {
			chunk := raw[i*dt.ItemSize : (i+1)*dt.ItemSize]
			a.Strings[i] = strings.TrimRight(string(chunk), "\x00")
		}
	case 'V':
		a.Raw = raw[:count*dt.ItemSize]
	default:
		return fmt.Errorf("unsupported dtype kind %q", string(dt.Kind))
	}
	return nil
}

func byteOrder(dt *Dtype) binary.ByteOrder {
	if dt.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// fieldFloat reads one member of a structured record by field offset.
func (a *NDArray) fieldFloat(record int, f DtypeField) (float64, error) {
	base := record*a.Dtype.ItemSize + f.Offset
	if base+f.Dtype.ItemSize > len(a.Raw) {
		return 0, fmt.Errorf("record %d out of range", record)
	}
	chunk := a.Raw[base:]
	order := byteOrder(f.Dtype)
	switch f.Dtype.Kind {
	case 'f':
		if f.Dtype.ItemSize == 4 {
			return float64(math.Float32frombits(order.Uint32(chunk))), nil
		}
		return math.Float64frombits(order.Uint64(chunk)), nil
	case 'i':
		switch f.Dtype.ItemSize {
		case 8:
			return float64(int64(order.Uint64(chunk))), nil
		case 4:
			return float64(int32(order.Uint32(chunk))), nil
		}
	case 'u', 'b':
		if f.Dtype.ItemSize == 1 {
			return float64(chunk[0]), nil
		}
	}
	return 0, fmt.Errorf("unsupported record field kind %q", string(f.Dtype.Kind))
}

func reconstructScalar(args pickle.Tuple) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("scalar wants 2 args, got %d", len(args))
	}
	dt, ok := args[0].(*Dtype)
	if !ok {
		return nil, fmt.Errorf("scalar dtype is %T", args[0])
	}
	raw, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("scalar data is %T", args[1])
	}
	arr := &NDArray{Shape: []int{1}, Dtype: dt}
	if err := arr.fill(raw); err != nil {
		return nil, err
	}
	if arr.Floats != nil {
		return arr.Floats[0], nil
	}
	if arr.Strings != nil {
		return arr.Strings[0], nil
	}
	return nil, fmt.Errorf("unsupported scalar dtype")
}

// arrayWrapper is the in-stream marker of the array-aware container format:
// the wrapper object is pickled inline and the raw array bytes follow it in
// the same stream.
type arrayWrapper struct {
	shape     []int
	dtype     *Dtype
	alignment int
}

func newArrayWrapper(pickle.Tuple) (any, error) {
	return &arrayWrapper{}, nil
}

func (w *arrayWrapper) SetPickleState(state any) error {
	m, err := stateDict(state)
	if err != nil {
		return err
	}
	if shape, ok := asInts(m["shape"]); ok {
		w.shape = shape
	}
	switch dt := m["dtype"].(type) {
	case *Dtype:
		w.dtype = dt
	case string:
		parsed, err := parseDtype(dt)
		if err != nil {
			return err
		}
		w.dtype = parsed
	default:
		return fmt.Errorf("array wrapper dtype is %T", m["dtype"])
	}
	if order, ok := m["order"].(string); ok && order == "F" && len(w.shape) > 1 {
		return fmt.Errorf("fortran-order arrays are not supported")
	}
	if align, ok := asInt(m["numpy_array_alignment_bytes"]); ok {
		w.alignment = align
	}
	return nil
}

// ReadPayload consumes the raw array bytes that follow the wrapper in the
// stream and yields the materialized array.
func (w *arrayWrapper) ReadPayload(r *bufio.Reader) (any, error) {
	if w.dtype == nil {
		return nil, fmt.Errorf("array wrapper built without dtype")
	}
	if w.alignment > 0 {
		// One byte holds the padding length, followed by that much padding.
		pad, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return nil, err
		}
	}
	arr := &NDArray{Shape: w.shape, Dtype: w.dtype}
	raw := make([]byte, arr.Len()*w.dtype.ItemSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("short array payload: %w", err)
	}
	if err := arr.fill(raw); err != nil {
		return nil, err
	}
	return arr, nil
}
