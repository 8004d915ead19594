// Package kfmt implements the kernel log channel: an allocation-free printf
// subset, an early ring buffer that captures output before a sink is attached
// and the panic path that halts the machine.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize bounds the number of characters a formatted integer (including
// padding and sign) may occupy.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	digits          = []byte("0123456789abcdef")

	// numBuf is filled right-to-left by fmtInt.
	numBuf [numBufSize]byte

	// oneByte is a shared buffer for emitting single characters without
	// converting string slices into byte slices (which would allocate).
	oneByte = []byte{0}

	// earlyPrintBuffer captures Printf output until SetOutputSink is called.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. A nil sink redirects output to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink installs w as the target for Printf and replays any output
// that was captured by the early ring buffer. Passing nil reverts to the ring
// buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted message to the active output sink. The supported
// verbs are a subset of the ones understood by fmt.Printf:
//
//	%s  string or []byte
//	%d  base 10 integer, left-padded with spaces
//	%x  base 16 integer (lower-case), left-padded with zeroes
//	%o  base 8 integer, left-padded with zeroes
//	%t  bool
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Printf never allocates and does not
// consult fmt.Stringer so it can be used before the Go runtime is ready.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		// Parse an optional width followed by a verb.
		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i >= len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		if verb == '%' {
			writeByte(w, '%')
			continue
		}

		if verb != 'd' && verb != 'x' && verb != 'o' && verb != 's' && verb != 't' {
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		writeRepeat(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		writeRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt renders v in the requested base. Base-10 output is padded with
// spaces; base-8 and base-16 output is padded with zeroes.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		mag uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, neg = abs(int64(n))
	case int16:
		mag, neg = abs(int64(n))
	case int32:
		mag, neg = abs(int64(n))
	case int64:
		mag, neg = abs(n)
	case int:
		mag, neg = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digits[mag%base]
		mag /= base
		if mag == 0 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Space padding goes in front of the sign; zero padding goes between
	// the sign and the digits.
	signLen := 0
	if neg && padCh == ' ' {
		pos--
		numBuf[pos] = '-'
	} else if neg {
		signLen = 1
	}

	for numBufSize-pos+signLen < width {
		pos--
		numBuf[pos] = padCh
	}

	if signLen != 0 {
		pos--
		numBuf[pos] = '-'
	}

	doWrite(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	doWrite(w, oneByte)
}

func writeRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// doWrite hides p from escape analysis. Without it the compiler assumes that
// p escapes through the io.Writer interface call and heap-allocates the
// argument slice on every Printf call, which crashes the kernel when Printf
// is used before the allocator is up.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
		return
	}
	earlyPrintBuffer.Write(p)
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
