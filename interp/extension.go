package interp

import "fmt"

// OpHandler executes one extension-owned opcode, reading its operands from
// ctx.Cursor() starting at *addr (which it must advance past everything it
// reads) and returning the run's outcome if it wants to end the run early
// (StatusOK, nil to continue normally is the common case - the VM loop
// keeps going after a handler returns StatusOK/nil unless the handler
// itself signals Stop by returning a non-continuing status).
type OpHandler func(ctx *Context, addr *int) (Status, error)

// opRegistry is a process-wide table populated by each extension package's
// init() (the same self-registration pattern as image.RegisterFormat or
// database/sql.Register), so interp never imports package ext directly and
// the dependency only runs one way: ext -> interp.
var opRegistry = map[string]map[uint8]OpHandler{}

// RegisterOp attaches handler to extension's local opcode code. Called
// from an extension package's init(); registering the same (extension,
// code) pair twice is a programming error and panics.
func RegisterOp(extension string, code uint8, handler OpHandler) {
	m := opRegistry[extension]
	if m == nil {
		m = make(map[uint8]OpHandler)
		opRegistry[extension] = m
	}
	if _, exists := m[code]; exists {
		panic(fmt.Sprintf("interp: opcode %s/%d already registered", extension, code))
	}
	m[code] = handler
}

func lookupOp(extension string, code uint8) (OpHandler, bool) {
	m := opRegistry[extension]
	if m == nil {
		return nil, false
	}
	h, ok := m[code]
	return h, ok
}
