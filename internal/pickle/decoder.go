package pickle

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Opcode values for the subset of the format the decoder understands.
const (
	opMark           = '('
	opStop           = '.'
	opPop            = '0'
	opPopMark        = '1'
	opDup            = '2'
	opFloat          = 'F'
	opBinFloat       = 'G'
	opInt            = 'I'
	opBinInt         = 'J'
	opBinInt1        = 'K'
	opLong           = 'L'
	opBinInt2        = 'M'
	opNone           = 'N'
	opPersID         = 'P'
	opBinPersID      = 'Q'
	opReduce         = 'R'
	opString         = 'S'
	opBinString      = 'T'
	opShortBinString = 'U'
	opUnicode        = 'V'
	opBinUnicode     = 'X'
	opAppend         = 'a'
	opBuild          = 'b'
	opGlobal         = 'c'
	opDict           = 'd'
	opAppends        = 'e'
	opGet            = 'g'
	opBinGet         = 'h'
	opInst           = 'i'
	opLongBinGet     = 'j'
	opList           = 'l'
	opObj            = 'o'
	opPut            = 'p'
	opBinPut         = 'q'
	opLongBinPut     = 'r'
	opSetItem        = 's'
	opTuple          = 't'
	opSetItems       = 'u'
	opEmptyDict      = '}'
	opEmptyList      = ']'
	opEmptyTuple     = ')'
	opBinBytes       = 'B'
	opShortBinBytes  = 'C'

	opProto            = 0x80
	opNewObj           = 0x81
	opExt1             = 0x82
	opExt2             = 0x83
	opExt4             = 0x84
	opTuple1           = 0x85
	opTuple2           = 0x86
	opTuple3           = 0x87
	opNewTrue          = 0x88
	opNewFalse         = 0x89
	opLong1            = 0x8a
	opLong4            = 0x8b
	opShortBinUnicode  = 0x8c
	opBinUnicode8      = 0x8d
	opBinBytes8        = 0x8e
	opEmptySet         = 0x8f
	opAddItems         = 0x90
	opFrozenSet        = 0x91
	opNewObjEx         = 0x92
	opStackGlobal      = 0x93
	opMemoize          = 0x94
	opFrame            = 0x95
	opByteArray8       = 0x96
	opNextBuffer       = 0x97
	opReadOnlyBuffer   = 0x98
	highestKnownProto  = 5
	maxInlineBlockSize = 1 << 31 // sanity cap for length-prefixed blocks
)

var errStop = errors.New("pickle: stop")

// Decoder reads one pickled object graph from a stream.
type Decoder struct {
	r       *bufio.Reader
	mode    StringMode
	resolve Resolver

	stack []any
	marks []int
	memo  map[int]any
}

// NewDecoder returns a decoder reading from r. A nil resolver rejects every
// class reference.
func NewDecoder(r io.Reader, mode StringMode, resolve Resolver) *Decoder {
	if resolve == nil {
		resolve = RejectAll
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{
		r:       br,
		mode:    mode,
		resolve: resolve,
		memo:    make(map[int]any),
	}
}

// Decode unpickles a byte slice in one call.
func Decode(data []byte, mode StringMode, resolve Resolver) (any, error) {
	return NewDecoder(bytes.NewReader(data), mode, resolve).Decode()
}

// Decode runs the opcode machine until STOP and returns the top of stack.
func (d *Decoder) Decode() (any, error) {
	for {
		op, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("pickle: truncated stream")
			}
			return nil, err
		}
		if err := d.step(op); err != nil {
			if err == errStop {
				return d.pop()
			}
			return nil, err
		}
	}
}

func (d *Decoder) step(op byte) error {
	switch op {
	case opProto:
		v, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if int(v) > highestKnownProto {
			return fmt.Errorf("pickle: unsupported protocol %d", v)
		}
	case opFrame:
		// Frame lengths are advisory; the payload follows inline.
		var buf [8]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return err
		}
	case opStop:
		return errStop

	case opNone:
		d.push(nil)
	case opNewTrue:
		d.push(true)
	case opNewFalse:
		d.push(false)

	case opBinInt:
		v, err := d.readUint32()
		if err != nil {
			return err
		}
		d.push(int64(int32(v)))
	case opBinInt1:
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		d.push(int64(b))
	case opBinInt2:
		var buf [2]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return err
		}
		d.push(int64(binary.LittleEndian.Uint16(buf[:])))
	case opInt:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		switch line {
		case "00":
			d.push(false)
		case "01":
			d.push(true)
		default:
			n, err := strconv.ParseInt(line, 10, 64)
			if err != nil {
				return fmt.Errorf("pickle: bad INT %q", line)
			}
			d.push(n)
		}
	case opLong:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		line = strings.TrimSuffix(line, "L")
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return fmt.Errorf("pickle: bad LONG %q", line)
		}
		d.push(n)
	case opLong1:
		n, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		v, err := d.readLittleLong(int(n))
		if err != nil {
			return err
		}
		d.push(v)
	case opLong4:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		v, err := d.readLittleLong(int(n))
		if err != nil {
			return err
		}
		d.push(v)

	case opFloat:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return fmt.Errorf("pickle: bad FLOAT %q", line)
		}
		d.push(f)
	case opBinFloat:
		var buf [8]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return err
		}
		d.push(math.Float64frombits(binary.BigEndian.Uint64(buf[:])))

	case opString:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		raw, err := unquoteString(line)
		if err != nil {
			return err
		}
		v, err := d.decodeEightBit(raw)
		if err != nil {
			return err
		}
		d.push(v)
	case opShortBinString:
		n, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		v, err := d.decodeEightBit(raw)
		if err != nil {
			return err
		}
		d.push(v)
	case opBinString:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		v, err := d.decodeEightBit(raw)
		if err != nil {
			return err
		}
		d.push(v)

	case opUnicode:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		s, err := decodeRawUnicodeEscape(line)
		if err != nil {
			return err
		}
		d.push(s)
	case opShortBinUnicode:
		n, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		d.push(string(raw))
	case opBinUnicode:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		d.push(string(raw))
	case opBinUnicode8:
		n, err := d.readUint64()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		d.push(string(raw))

	case opShortBinBytes:
		n, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		d.push(raw)
	case opBinBytes:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		d.push(raw)
	case opBinBytes8, opByteArray8:
		n, err := d.readUint64()
		if err != nil {
			return err
		}
		raw, err := d.readBlock(int(n))
		if err != nil {
			return err
		}
		d.push(raw)

	case opEmptyList:
		d.push([]any{})
	case opEmptyDict:
		d.push(map[any]any{})
	case opEmptyTuple:
		d.push(Tuple{})
	case opEmptySet:
		d.push(Set{})

	case opMark:
		d.marks = append(d.marks, len(d.stack))
	case opPop:
		if _, err := d.pop(); err != nil {
			return err
		}
	case opPopMark:
		if _, err := d.popMark(); err != nil {
			return err
		}
	case opDup:
		v, err := d.top()
		if err != nil {
			return err
		}
		d.push(v)

	case opList:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		d.push(append([]any{}, items...))
	case opDict:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		m := make(map[any]any, len(items)/2)
		for i := 0; i+1 < len(items); i += 2 {
			if err := setKey(m, items[i], items[i+1]); err != nil {
				return err
			}
		}
		d.push(m)
	case opTuple:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		d.push(Tuple(append([]any{}, items...)))
	case opTuple1:
		a, err := d.pop()
		if err != nil {
			return err
		}
		d.push(Tuple{a})
	case opTuple2:
		b, err := d.pop()
		if err != nil {
			return err
		}
		a, err := d.pop()
		if err != nil {
			return err
		}
		d.push(Tuple{a, b})
	case opTuple3:
		c, err := d.pop()
		if err != nil {
			return err
		}
		b, err := d.pop()
		if err != nil {
			return err
		}
		a, err := d.pop()
		if err != nil {
			return err
		}
		d.push(Tuple{a, b, c})
	case opFrozenSet:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		d.push(Set(append([]any{}, items...)))

	case opAppend:
		v, err := d.pop()
		if err != nil {
			return err
		}
		list, err := d.topList()
		if err != nil {
			return err
		}
		d.stack[len(d.stack)-1] = append(list, v)
	case opAppends:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		list, err := d.topList()
		if err != nil {
			return err
		}
		d.stack[len(d.stack)-1] = append(list, items...)
	case opSetItem:
		v, err := d.pop()
		if err != nil {
			return err
		}
		k, err := d.pop()
		if err != nil {
			return err
		}
		m, err := d.topDict()
		if err != nil {
			return err
		}
		if err := setKey(m, k, v); err != nil {
			return err
		}
	case opSetItems:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		m, err := d.topDict()
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(items); i += 2 {
			if err := setKey(m, items[i], items[i+1]); err != nil {
				return err
			}
		}
	case opAddItems:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		top, err := d.top()
		if err != nil {
			return err
		}
		set, ok := top.(Set)
		if !ok {
			return fmt.Errorf("pickle: ADDITEMS on %T", top)
		}
		d.stack[len(d.stack)-1] = append(set, items...)

	case opGet:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("pickle: bad GET %q", line)
		}
		return d.memoGet(idx)
	case opBinGet:
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		return d.memoGet(int(b))
	case opLongBinGet:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		return d.memoGet(int(n))
	case opPut:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("pickle: bad PUT %q", line)
		}
		return d.memoPut(idx)
	case opBinPut:
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		return d.memoPut(int(b))
	case opLongBinPut:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		return d.memoPut(int(n))
	case opMemoize:
		return d.memoPut(len(d.memo))

	case opGlobal:
		module, err := d.readLine()
		if err != nil {
			return err
		}
		name, err := d.readLine()
		if err != nil {
			return err
		}
		return d.pushGlobal(module, name)
	case opStackGlobal:
		nameV, err := d.pop()
		if err != nil {
			return err
		}
		moduleV, err := d.pop()
		if err != nil {
			return err
		}
		module, ok1 := moduleV.(string)
		name, ok2 := nameV.(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("pickle: STACK_GLOBAL wants strings, got %T/%T", moduleV, nameV)
		}
		return d.pushGlobal(module, name)

	case opReduce:
		args, err := d.pop()
		if err != nil {
			return err
		}
		callee, err := d.pop()
		if err != nil {
			return err
		}
		return d.instantiate(callee, args)
	case opNewObj:
		args, err := d.pop()
		if err != nil {
			return err
		}
		cls, err := d.pop()
		if err != nil {
			return err
		}
		return d.instantiate(cls, args)
	case opNewObjEx:
		kwargs, err := d.pop()
		if err != nil {
			return err
		}
		args, err := d.pop()
		if err != nil {
			return err
		}
		cls, err := d.pop()
		if err != nil {
			return err
		}
		if m, ok := kwargs.(map[any]any); ok && len(m) > 0 {
			return fmt.Errorf("pickle: NEWOBJ_EX with keyword arguments")
		}
		return d.instantiate(cls, args)
	case opInst:
		module, err := d.readLine()
		if err != nil {
			return err
		}
		name, err := d.readLine()
		if err != nil {
			return err
		}
		items, err := d.popMark()
		if err != nil {
			return err
		}
		recon, err := d.resolve(module, name)
		if err != nil {
			return err
		}
		v, err := recon(Tuple(items))
		if err != nil {
			return err
		}
		d.push(v)
	case opObj:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("pickle: OBJ with empty mark")
		}
		return d.instantiate(items[0], Tuple(items[1:]))

	case opBuild:
		state, err := d.pop()
		if err != nil {
			return err
		}
		obj, err := d.top()
		if err != nil {
			return err
		}
		built, err := build(obj, state)
		if err != nil {
			return err
		}
		if pr, ok := built.(PayloadReader); ok {
			built, err = pr.ReadPayload(d.r)
			if err != nil {
				return fmt.Errorf("pickle: array payload: %w", err)
			}
		}
		d.stack[len(d.stack)-1] = built

	case opPersID, opBinPersID:
		return fmt.Errorf("pickle: persistent references are not supported")
	case opExt1, opExt2, opExt4:
		return fmt.Errorf("pickle: extension registry opcodes are not supported")
	case opNextBuffer, opReadOnlyBuffer:
		return fmt.Errorf("pickle: out-of-band buffers are not supported")

	default:
		return fmt.Errorf("pickle: unknown opcode 0x%02x", op)
	}
	return nil
}

func (d *Decoder) pushGlobal(module, name string) error {
	recon, err := d.resolve(module, name)
	if err != nil {
		return err
	}
	d.push(Class{Module: module, Name: name, recon: recon})
	return nil
}

func (d *Decoder) instantiate(callee any, args any) error {
	cls, ok := callee.(Class)
	if !ok {
		return fmt.Errorf("pickle: cannot call %T", callee)
	}
	tup, ok := args.(Tuple)
	if !ok {
		if args == nil {
			tup = Tuple{}
		} else {
			tup = Tuple{args}
		}
	}
	v, err := cls.recon(tup)
	if err != nil {
		return fmt.Errorf("pickle: %s: %w", cls, err)
	}
	d.push(v)
	return nil
}

func build(obj, state any) (any, error) {
	if b, ok := obj.(Buildable); ok {
		if err := b.SetPickleState(state); err != nil {
			return nil, err
		}
		return obj, nil
	}
	return nil, fmt.Errorf("pickle: BUILD on %T", obj)
}

func (d *Decoder) decodeEightBit(raw []byte) (any, error) {
	switch d.mode {
	case Latin1:
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b)
		}
		return string(runes), nil
	case Bytes:
		return raw, nil
	default: // ASCII and Strict
		for _, b := range raw {
			if b > 0x7f {
				return nil, fmt.Errorf("pickle: non-ascii byte 0x%02x in string", b)
			}
		}
		return string(raw), nil
	}
}

func (d *Decoder) push(v any) { d.stack = append(d.stack, v) }

func (d *Decoder) pop() (any, error) {
	if len(d.stack) == 0 {
		return nil, fmt.Errorf("pickle: stack underflow")
	}
	v := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return v, nil
}

func (d *Decoder) top() (any, error) {
	if len(d.stack) == 0 {
		return nil, fmt.Errorf("pickle: stack underflow")
	}
	return d.stack[len(d.stack)-1], nil
}

func (d *Decoder) topList() ([]any, error) {
	v, err := d.top()
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("pickle: expected list, got %T", v)
	}
	return list, nil
}

func (d *Decoder) topDict() (map[any]any, error) {
	v, err := d.top()
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[any]any)
	if !ok {
		return nil, fmt.Errorf("pickle: expected dict, got %T", v)
	}
	return m, nil
}

func (d *Decoder) popMark() ([]any, error) {
	if len(d.marks) == 0 {
		return nil, fmt.Errorf("pickle: no mark on stack")
	}
	mark := d.marks[len(d.marks)-1]
	d.marks = d.marks[:len(d.marks)-1]
	items := append([]any{}, d.stack[mark:]...)
	d.stack = d.stack[:mark]
	return items, nil
}

func (d *Decoder) memoGet(idx int) error {
	v, ok := d.memo[idx]
	if !ok {
		return fmt.Errorf("pickle: memo key %d not set", idx)
	}
	d.push(v)
	return nil
}

func (d *Decoder) memoPut(idx int) error {
	v, err := d.top()
	if err != nil {
		return err
	}
	d.memo[idx] = v
	return nil
}

func (d *Decoder) readLine() (string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("pickle: truncated line: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (d *Decoder) readBlock(n int) ([]byte, error) {
	if n < 0 || n > maxInlineBlockSize {
		return nil, fmt.Errorf("pickle: block length %d out of range", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("pickle: truncated block: %w", err)
	}
	return buf, nil
}

func (d *Decoder) readUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (d *Decoder) readUint64() (int, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(buf[:])
	if v > maxInlineBlockSize {
		return 0, fmt.Errorf("pickle: block length %d out of range", v)
	}
	return int(v), nil
}

// readLittleLong decodes an n-byte little-endian two's-complement integer.
func (d *Decoder) readLittleLong(n int) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 8 {
		return 0, fmt.Errorf("pickle: %d-byte integer too large", n)
	}
	buf, err := d.readBlock(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	if buf[n-1]&0x80 != 0 {
		// Sign-extend.
		for i := n; i < 8; i++ {
			v |= 0xff << (8 * i)
		}
	}
	return int64(v), nil
}

// setKey inserts into a decoded dict. Byte-string keys are stored under
// their latin1 string form so lookups by attribute name work in every
// string mode; non-scalar keys are rejected.
func setKey(m map[any]any, k, v any) error {
	switch key := k.(type) {
	case []byte:
		runes := make([]rune, len(key))
		for i, b := range key {
			runes[i] = rune(b)
		}
		m[string(runes)] = v
		return nil
	case nil, bool, int64, float64, string:
		m[key] = v
		return nil
	default:
		return fmt.Errorf("pickle: unhashable dict key %T", k)
	}
}

// unquoteString strips the repr quoting of a protocol 0 STRING line.
func unquoteString(line string) ([]byte, error) {
	if len(line) < 2 || line[0] != line[len(line)-1] || (line[0] != '\'' && line[0] != '"') {
		return nil, fmt.Errorf("pickle: bad STRING %q", line)
	}
	body := line[1 : len(line)-1]
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(body) {
			return nil, fmt.Errorf("pickle: dangling escape in %q", line)
		}
		switch body[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case '\\', '\'', '"':
			out = append(out, body[i])
		case 'x':
			if i+2 >= len(body) {
				return nil, fmt.Errorf("pickle: bad hex escape in %q", line)
			}
			n, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("pickle: bad hex escape in %q", line)
			}
			out = append(out, byte(n))
			i += 2
		default:
			return nil, fmt.Errorf("pickle: unsupported escape \\%c", body[i])
		}
	}
	return out, nil
}

// decodeRawUnicodeEscape handles the encoding of protocol 0 UNICODE lines.
func decodeRawUnicodeEscape(line string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && (line[i+1] == 'u' || line[i+1] == 'U') {
			width := 4
			if line[i+1] == 'U' {
				width = 8
			}
			if i+2+width > len(line) {
				return "", fmt.Errorf("pickle: bad unicode escape in %q", line)
			}
			n, err := strconv.ParseUint(line[i+2:i+2+width], 16, 32)
			if err != nil {
				return "", fmt.Errorf("pickle: bad unicode escape in %q", line)
			}
			b.WriteRune(rune(n))
			i += 1 + width
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}
