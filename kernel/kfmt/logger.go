package kfmt

import "io"

// Logger prints messages for one kernel module. Every output line is tagged
// with the module name, e.g.:
//
//	[frames] frame map at 0x0000000000181000 (32 bytes)
//
// Loggers are meant to be declared as package-level values:
//
//	var log = kfmt.Logger{Module: "frames"}
type Logger struct {
	Module string

	w prefixWriter
}

// Printf formats a message (see Printf for the supported verbs) and writes it
// to the active output sink. A trailing newline is not implied.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.w.sink = outputSink
	if l.w.sink == nil {
		l.w.sink = &earlyPrintBuffer
	}
	l.w.module = l.Module

	Fprintf(&l.w, format, args...)
}

// prefixWriter injects "[module] " at the start of every line written to sink.
type prefixWriter struct {
	sink   io.Writer
	module string

	// midLine is set when the last byte written was not a line feed.
	midLine bool
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) > 0 {
		if !w.midLine {
			w.writePrefix()
			w.midLine = true
		}

		end := 0
		for end < len(p) && p[end] != '\n' {
			end++
		}
		if end < len(p) {
			// include the line feed
			end++
			w.midLine = false
		}

		n, err := w.sink.Write(p[:end])
		written += n
		if err != nil {
			return written, err
		}
		p = p[end:]
	}

	return written, nil
}

func (w *prefixWriter) writePrefix() {
	writeByte(w.sink, '[')
	for i := 0; i < len(w.module); i++ {
		writeByte(w.sink, w.module[i])
	}
	writeByte(w.sink, ']')
	writeByte(w.sink, ' ')
}
