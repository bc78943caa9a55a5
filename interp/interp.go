// Package interp is the bytecode virtual machine: it walks a compiled
// sbinary.Binary one opcode at a time, evaluating tests against a message
// on a small boolean stack and queuing actions into a result.Result, the
// same run loop shape as the C implementation's sieve_interpreter_run but
// flattened into a single Go function per spec.md's VM design.
package interp

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/result"
	"github.com/foxcpp/go-sieve/sbinary"
)

// Logger is the structured-logging sink the interpreter writes runtime
// diagnostics to (extension warnings, abort reasons); satisfied directly
// by *slog.Logger. Nil means log nothing, the same capability-gate shape
// as Options.Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options carries the ambient, optional capabilities a run may be given
// beyond the message/policy it interprets against: a Prometheus registry
// to publish run/action counters into, and a structured logger. Both are
// nil-safe; a zero Options behaves exactly as the interpreter always did.
type Options struct {
	Registry *prometheus.Registry
	Logger   Logger
}

// Status is the outcome of a run, mirroring spec.md's Ok/BinaryCorrupt/
// Stop/TempFailure return codes.
type Status int

const (
	StatusOK Status = iota
	StatusBinaryCorrupt
	StatusStopped // not returned by run: `stop` and the end of the program both yield StatusOK
	StatusTempFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBinaryCorrupt:
		return "binary corrupt"
	case StatusStopped:
		return "stopped"
	case StatusTempFailure:
		return "temporary failure"
	default:
		return "unknown"
	}
}

// MessageData is the subset of the message under evaluation the VM needs.
// Host programs implement it directly, or use the Static helpers in
// message.go for already-parsed messages.
type MessageData interface {
	// HeaderValues returns every value of header name, folded to a
	// canonical form by the caller's RFC 2047/MIME decoding, and whether
	// the header is present at all (an empty-but-present header returns
	// ok=true with a single empty-string value).
	HeaderValues(name string) (values []string, ok bool)
	// Size is the message's size in octets, for the :size test.
	Size() int64
}

// Envelope is the SMTP envelope under evaluation (RFC 5228 §5.4).
type Envelope interface {
	From() string
	To() string
	Auth() string
}

// Policy is the opaque host handle actions execute against (mailbox
// delivery, relay, duplicate tracking, ...); concrete type is up to the
// caller, same pattern as the optional MailboxChecker/MailboxCreator
// interfaces extensions type-assert it against.
type Policy interface{}

// RuntimeData threads everything one interpretation run needs: the
// compiled binary, extension registry, message/envelope under test, and
// the accumulating result.
type RuntimeData struct {
	Binary   *sbinary.Binary
	Registry *extreg.Registry
	Policy   Policy
	Env      Envelope
	Message  MessageData
	Result   *result.Result
	Opts     Options

	// Variables holds the `variables` extension's namespace; nil until
	// the first `set` or imap4flags flag command of the run creates it.
	Variables map[string]string
}

func NewRuntimeData(bin *sbinary.Binary, registry *extreg.Registry, policy Policy, env Envelope, msg MessageData) *RuntimeData {
	return &RuntimeData{
		Binary:   bin,
		Registry: registry,
		Policy:   policy,
		Env:      env,
		Message:  msg,
		Result:   result.New(),
	}
}

// WithOptions attaches opts (metrics registry, logger) to d and returns d,
// for chaining onto NewRuntimeData at the call site.
func (d *RuntimeData) WithOptions(opts Options) *RuntimeData {
	d.Opts = opts
	return d
}

// vm carries one Execute call's mutable state: the instruction pointer, the
// boolean evaluation stack, and a cursor over the binary.
type vm struct {
	data  *RuntimeData
	cur   *sbinary.Cursor
	stack []bool
	steps int
}

// MaxSteps bounds how many opcodes a single run may execute, guarding
// against a pathological or corrupt binary looping forever; spec.md's
// resource model ties this to the same budget as match/regex limits.
const MaxSteps = 1_000_000

func (m *vm) push(b bool) { m.stack = append(m.stack, b) }

func (m *vm) pop() (bool, bool) {
	if len(m.stack) == 0 {
		return false, false
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, true
}

// UnknownExtensionError is returned by Execute when data.Binary's extension
// index names an extension the current data.Registry doesn't know, per
// spec.md §4.1: "the interpreter refuses to run a binary whose extensions
// cannot all be resolved by the current runtime." The check runs before
// the first opcode so a stale cached binary never partially executes.
type UnknownExtensionError struct{ Name string }

func (e *UnknownExtensionError) Error() string {
	return fmt.Sprintf("interp: binary references unknown extension %q", e.Name)
}

// checkExtensions verifies every name in bin's extension index is known to
// registry, returning the first that isn't.
func checkExtensions(bin *sbinary.Binary, registry *extreg.Registry) error {
	for _, name := range bin.ExtNames {
		if !registry.Known(name) {
			return &UnknownExtensionError{Name: name}
		}
	}
	return nil
}

// Execute runs data.Binary to completion (or Stop/error), leaving queued
// actions in data.Result uncommitted - callers decide whether/how to
// commit via result.Result.Commit once they've inspected the outcome.
func Execute(ctx context.Context, data *RuntimeData) (Status, error) {
	start := time.Now()
	status, err := run(ctx, data)
	m := metricsFor(data.Opts.Registry)
	m.observeRun(status, time.Since(start))
	for _, a := range data.Result.Actions() {
		m.observeAction(a.Name())
	}
	if err != nil && data.Opts.Logger != nil {
		data.Opts.Logger.Warn("sieve: run finished with error", "status", status.String(), "error", err)
	}
	return status, err
}

func run(ctx context.Context, data *RuntimeData) (Status, error) {
	if err := checkExtensions(data.Binary, data.Registry); err != nil {
		return StatusBinaryCorrupt, err
	}
	m := &vm{data: data, cur: data.Binary.Reader()}
	addr := 0
	for {
		if err := ctx.Err(); err != nil {
			return StatusTempFailure, err
		}
		m.steps++
		if m.steps > MaxSteps {
			return StatusTempFailure, fmt.Errorf("interp: exceeded %d opcode budget", MaxSteps)
		}

		op, ok := m.cur.ReadOpcode(&addr)
		if !ok {
			return StatusBinaryCorrupt, fmt.Errorf("interp: truncated opcode at %s", m.cur.String(addr))
		}

		switch op {
		case opcode.Stop:
			return StatusOK, nil

		case opcode.Jmp:
			off, ok := m.cur.ReadPackedInt(&addr)
			if !ok {
				return StatusBinaryCorrupt, fmt.Errorf("interp: truncated jump at %s", m.cur.String(addr))
			}
			addr += int(off)

		case opcode.JmpTrue, opcode.JmpFalse:
			off, ok := m.cur.ReadPackedInt(&addr)
			if !ok {
				return StatusBinaryCorrupt, fmt.Errorf("interp: truncated jump at %s", m.cur.String(addr))
			}
			v, ok := m.pop()
			if !ok {
				return StatusBinaryCorrupt, fmt.Errorf("interp: test stack underflow at %s", m.cur.String(addr))
			}
			if (op == opcode.JmpTrue && v) || (op == opcode.JmpFalse && !v) {
				addr += int(off)
			}

		case opcode.Not:
			v, ok := m.pop()
			if !ok {
				return StatusBinaryCorrupt, fmt.Errorf("interp: test stack underflow at %s", m.cur.String(addr))
			}
			m.push(!v)

		case opcode.And, opcode.Or:
			b, ok1 := m.pop()
			a, ok2 := m.pop()
			if !ok1 || !ok2 {
				return StatusBinaryCorrupt, fmt.Errorf("interp: test stack underflow at %s", m.cur.String(addr))
			}
			if op == opcode.And {
				m.push(a && b)
			} else {
				m.push(a || b)
			}

		case opcode.True:
			m.push(true)
		case opcode.False:
			m.push(false)

		case opcode.Address:
			if err := m.execAddress(&addr, false); err != nil {
				return StatusBinaryCorrupt, err
			}
		case opcode.Envelope:
			if err := m.execAddress(&addr, true); err != nil {
				return StatusBinaryCorrupt, err
			}
		case opcode.Header:
			if err := m.execHeader(&addr); err != nil {
				return StatusBinaryCorrupt, err
			}
		case opcode.Exists:
			if err := m.execExists(&addr); err != nil {
				return StatusBinaryCorrupt, err
			}
		case opcode.Size:
			if err := m.execSize(&addr); err != nil {
				return StatusBinaryCorrupt, err
			}

		case opcode.Keep:
			if err := m.execKeep(&addr); err != nil {
				return StatusBinaryCorrupt, err
			}
		case opcode.Discard:
			m.data.Result.CancelImplicitKeep()
		case opcode.FileInto:
			if err := m.execFileInto(&addr); err != nil {
				return StatusBinaryCorrupt, err
			}
		case opcode.Redirect:
			if err := m.execRedirect(&addr); err != nil {
				return StatusBinaryCorrupt, err
			}

		case opcode.Require:
			// no runtime effect; validation already resolved it.

		default:
			if op < opcode.ExtensionBase {
				return StatusBinaryCorrupt, fmt.Errorf("interp: unknown core opcode %v at %s", op, m.cur.String(addr))
			}
			status, err := m.execExtension(&addr)
			if err != nil || status != StatusOK {
				return status, err
			}
		}
	}
}

// execExtension decodes (extension-local-index, local opcode) and
// dispatches to the owning extension's runtime handler.
func (m *vm) execExtension(addr *int) (Status, error) {
	idx, ok := m.cur.ReadPackedUint(addr)
	if !ok {
		return StatusBinaryCorrupt, fmt.Errorf("interp: truncated extension opcode at %s", m.cur.String(*addr))
	}
	local, ok := m.cur.ReadU8(addr)
	if !ok {
		return StatusBinaryCorrupt, fmt.Errorf("interp: truncated extension opcode at %s", m.cur.String(*addr))
	}
	extName, ok := m.data.Binary.ExtName(uint32(idx))
	if !ok {
		return StatusBinaryCorrupt, fmt.Errorf("interp: unknown extension index %d at %s", idx, m.cur.String(*addr))
	}
	handler, ok := lookupOp(extName, local)
	if !ok {
		return StatusBinaryCorrupt, fmt.Errorf("interp: extension %q has no handler for opcode 0x%02x", extName, local)
	}
	return handler(&Context{vm: m}, addr)
}

// Context is the interface extension runtime handlers use to read operands
// and interact with the VM, exported so package ext doesn't need access to
// vm's unexported fields.
type Context struct{ vm *vm }

func (c *Context) Cursor() *sbinary.Cursor { return c.vm.cur }
func (c *Context) Data() *RuntimeData      { return c.vm.data }
func (c *Context) Push(b bool)             { c.vm.push(b) }
func (c *Context) Pop() (bool, bool)       { return c.vm.pop() }
