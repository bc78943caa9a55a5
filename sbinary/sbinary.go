// Package sbinary implements the append-only byte buffer the generator
// writes into and the interpreter reads back: primitive emitters for
// bytes, packed (variable-length) unsigned integers, length-prefixed
// strings and string-lists, opcodes and Object operands, plus the
// extension index that lets opcodes/operands carry compact local ids
// instead of full extension names.
package sbinary

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/sobj"
)

const (
	Magic   = "SVB1"
	Version = uint16(1)
)

// Binary is the compiled bytecode form of a script: a header, an extension
// index (ordered list of extension names referenced by the code), and the
// opcode stream itself. It is append-only during generation and read-only
// during interpretation.
type Binary struct {
	ExtNames []string // index position == extension-local index used by operands
	Code     []byte
}

func New() *Binary { return &Binary{} }

// Dump renders b's extension index and raw code buffer for debugging, the
// structured-operand equivalent of sieve_code_dumpf: since a single opcode
// byte can't be interpreted without the extension/object registries that
// only exist at interp/generator time, this gives the extension table and
// byte layout rather than a symbolic disassembly.
func (b *Binary) Dump() string {
	return spew.Sdump(b)
}

// Marshal serializes b into the on-disk cached-binary format from spec.md
// §6: a 4-byte magic, a u16 version, a u16 extension-index length, that
// many length-prefixed extension names, then the raw opcode stream
// verbatim. Marshal/Unmarshal round-trip byte-exactly so a cached binary
// reopened with Open is identical to the one Compile produced.
func (b *Binary) Marshal() []byte {
	out := make([]byte, 0, len(Magic)+2+2+len(b.Code)+32)
	out = append(out, Magic...)
	out = appendU16(out, Version)
	out = appendU16(out, uint16(len(b.ExtNames)))
	for _, name := range b.ExtNames {
		out = appendU16(out, uint16(len(name)))
		out = append(out, name...)
	}
	out = append(out, b.Code...)
	return out
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func readU16(data []byte, off int) (uint16, int, bool) {
	if off+2 > len(data) {
		return 0, off, false
	}
	return uint16(data[off])<<8 | uint16(data[off+1]), off + 2, true
}

// Unmarshal decodes data (as produced by Marshal) into a fresh Binary.
// It only checks structural validity (magic, version, well-formed extension
// index); it does not know which extensions the caller's runtime supports
// - that check belongs to the caller (see sieve.Open), matching spec.md
// §6's split between "loads a cached binary" and "verifies its extension
// index" against a live registry.
func Unmarshal(data []byte) (*Binary, error) {
	if len(data) < len(Magic)+4 || string(data[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("sbinary: bad magic")
	}
	off := len(Magic)
	version, off, ok := readU16(data, off)
	if !ok {
		return nil, fmt.Errorf("sbinary: truncated header")
	}
	if version != Version {
		return nil, fmt.Errorf("sbinary: unsupported binary version %d (want %d)", version, Version)
	}
	extLen, off, ok := readU16(data, off)
	if !ok {
		return nil, fmt.Errorf("sbinary: truncated extension index length")
	}
	names := make([]string, 0, extLen)
	for i := uint16(0); i < extLen; i++ {
		nameLen, next, ok := readU16(data, off)
		if !ok {
			return nil, fmt.Errorf("sbinary: truncated extension index")
		}
		off = next
		if off+int(nameLen) > len(data) {
			return nil, fmt.Errorf("sbinary: truncated extension name")
		}
		names = append(names, string(data[off:off+int(nameLen)]))
		off += int(nameLen)
	}
	code := make([]byte, len(data)-off)
	copy(code, data[off:])
	return &Binary{ExtNames: names, Code: code}, nil
}

// ExtIndex returns the local index assigned to name, registering it (at
// the next free slot) if this is the first time it is referenced. Mirrors
// the C implementation's "extension local indices are assigned the first
// time an object from an extension appears" rule.
func (b *Binary) ExtIndex(name string) uint32 {
	for i, n := range b.ExtNames {
		if n == name {
			return uint32(i)
		}
	}
	b.ExtNames = append(b.ExtNames, name)
	return uint32(len(b.ExtNames) - 1)
}

func (b *Binary) ExtName(idx uint32) (string, bool) {
	if int(idx) >= len(b.ExtNames) {
		return "", false
	}
	return b.ExtNames[idx], true
}

// --- emitters ---

func (b *Binary) EmitU8(v uint8) { b.Code = append(b.Code, v) }

// EmitPackedUint writes v as a variable-length 7-bit continuation integer,
// low bits first, continuation bit set on every byte but the last.
func (b *Binary) EmitPackedUint(v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.Code = append(b.Code, c)
		if v == 0 {
			return
		}
	}
}

// EmitPackedInt zig-zag encodes a signed value so small magnitudes (the
// common case for jump offsets) still take one byte.
func (b *Binary) EmitPackedInt(v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	b.EmitPackedUint(u)
}

func (b *Binary) EmitString(s string) {
	b.EmitPackedUint(uint64(len(s)))
	b.Code = append(b.Code, s...)
}

func (b *Binary) EmitStringList(list []string) {
	b.EmitPackedUint(uint64(len(list)))
	for _, s := range list {
		b.EmitString(s)
	}
}

func (b *Binary) EmitOpcode(op opcode.Op) { b.EmitU8(uint8(op)) }

// EmitExtOpcode emits an extension-owned opcode: opcode.ExtensionBase,
// the extension's local index, then the extension's own local code.
func (b *Binary) EmitExtOpcode(extName string, localCode uint8) {
	b.EmitU8(uint8(opcode.ExtensionBase))
	b.EmitPackedUint(uint64(b.ExtIndex(extName)))
	b.EmitU8(localCode)
}

// EmitObject emits an Object operand as (extension-local-index, code). A
// core object (Extension == "") is emitted under the reserved name "" so
// decoding never has to special-case it.
func (b *Binary) EmitObject(obj *sobj.Object) {
	b.EmitPackedUint(uint64(b.ExtIndex(obj.Extension)))
	b.EmitPackedUint(uint64(obj.Code))
}

// --- cursor / readers ---

// Cursor walks a Binary's Code from a byte offset, returning ok=false (and
// leaving *addr unmodified on most primitives) on truncated input so
// callers can surface BinaryCorrupt.
type Cursor struct {
	bin *Binary
}

func (b *Binary) Reader() *Cursor { return &Cursor{bin: b} }

func (c *Cursor) ReadU8(addr *int) (uint8, bool) {
	if *addr >= len(c.bin.Code) {
		return 0, false
	}
	v := c.bin.Code[*addr]
	*addr++
	return v, true
}

func (c *Cursor) ReadPackedUint(addr *int) (uint64, bool) {
	var v uint64
	var shift uint
	for {
		b, ok := c.ReadU8(addr)
		if !ok {
			return 0, false
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, true
		}
		shift += 7
		if shift > 63 {
			return 0, false
		}
	}
}

func (c *Cursor) ReadPackedInt(addr *int) (int64, bool) {
	u, ok := c.ReadPackedUint(addr)
	if !ok {
		return 0, false
	}
	v := int64(u >> 1)
	if u&1 != 0 {
		v = ^v
	}
	return v, true
}

func (c *Cursor) ReadString(addr *int) (string, bool) {
	n, ok := c.ReadPackedUint(addr)
	if !ok {
		return "", false
	}
	end := *addr + int(n)
	if n > uint64(len(c.bin.Code)) || end > len(c.bin.Code) || end < *addr {
		return "", false
	}
	s := string(c.bin.Code[*addr:end])
	*addr = end
	return s, true
}

func (c *Cursor) ReadStringList(addr *int) ([]string, bool) {
	n, ok := c.ReadPackedUint(addr)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, ok := c.ReadString(addr)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func (c *Cursor) ReadOpcode(addr *int) (opcode.Op, bool) {
	v, ok := c.ReadU8(addr)
	return opcode.Op(v), ok
}

// ReadObject reads an (extension-local-index, code) pair and resolves it
// against registry within class, returning ObjectNotRegistered-flavoured
// ok=false if the extension index or the object code is unknown.
func (c *Cursor) ReadObject(addr *int, registry *sobj.Registry, class sobj.Class) (*sobj.Object, bool) {
	idx, ok := c.ReadPackedUint(addr)
	if !ok {
		return nil, false
	}
	code, ok := c.ReadPackedUint(addr)
	if !ok {
		return nil, false
	}
	extName, ok := c.bin.ExtName(uint32(idx))
	if !ok {
		return nil, false
	}
	obj, ok := registry.ByCode(class, uint32(code))
	if !ok || obj.Extension != extName {
		return nil, false
	}
	return obj, true
}

func (c *Cursor) String(addr int) string {
	return fmt.Sprintf("@%d/%d", addr, len(c.bin.Code))
}
