package gateway

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/chazu/jitbridge/abi"
	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/handles"
	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/trace"
)

// MaxLogMessage bounds the output of one log entry point call.
const MaxLogMessage = 256

// truncate cuts s to at most MaxLogMessage bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= MaxLogMessage {
		return s
	}
	cut := MaxLogMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// fmtError matches the markers fmt writes for a bad verb, a missing or extra
// argument, or a panicking Stringer. A literal "%!" in the output is not one.
var fmtError = regexp.MustCompile(`%!.?\((?:MISSING|EXTRA |NOVERB|BADWIDTH|BADPREC|BADINDEX|PANIC=|[\w.*\[\]]+=)`)

// safeSprintf formats like fmt.Sprintf but never panics; a failed format
// degrades to the format string followed by the raw arguments.
func safeSprintf(format string, args ...any) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("%s %v", format, args)
		}
	}()
	msg = fmt.Sprintf(format, args...)
	if fmtError.MatchString(msg) {
		msg = fmt.Sprintf("%s %v", format, args)
	}
	return msg
}

// formatValues applies format to as many of values as it has verbs for.
func formatValues(format string, values ...int64) string {
	verbs := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		verbs++
	}
	args := make([]any, 0, len(values))
	for _, v := range values[:min(verbs, len(values))] {
		args = append(args, v)
	}
	return truncate(safeSprintf(format, args...))
}

func (g *Gateway) write(s string) {
	g.logMu.Lock()
	defer g.logMu.Unlock()
	if _, err := io.WriteString(g.log, s); err != nil {
		trace.Logger().Warningf("log entry point: %v", err)
	}
}

// LogPrintf formats up to three values with a printf-style format. It never
// fails; output is truncated to MaxLogMessage bytes.
func (g *Gateway) LogPrintf(t *bridge.Thread, format string, v1, v2, v3 int64) {
	g.write(formatValues(format, v1, v2, v3))
}

// LogPrimitive prints value interpreted according to typeChar ('Z', 'B',
// 'C', 'S', 'I', 'J', 'F' or 'D'), optionally followed by a newline.
func (g *Gateway) LogPrimitive(t *bridge.Thread, typeChar abi.Jchar, value int64, newline bool) {
	var s string
	switch typeChar {
	case 'Z':
		s = fmt.Sprint(value != 0)
	case 'B', 'S', 'I', 'J':
		s = fmt.Sprint(value)
	case 'C':
		s = string(rune(abi.Jchar(value)))
	case 'F':
		s = fmt.Sprint(math.Float32frombits(uint32(value)))
	case 'D':
		s = fmt.Sprint(math.Float64frombits(uint64(value)))
	default:
		s = fmt.Sprintf("<unknown type %c>", rune(typeChar))
	}
	if newline {
		s += "\n"
	}
	g.write(truncate(s))
}

// LogObject prints obj: its text if asString is set and obj is a string,
// otherwise its class and address.
func (g *Gateway) LogObject(t *bridge.Thread, obj handles.Handle, asString, newline bool) {
	o, err := t.Resolve(obj)
	var s string
	switch {
	case err != nil:
		s = fmt.Sprintf("<invalid handle %s>", obj)
	case o == nil:
		s = "null"
	default:
		text, isString := heap.StringValue(o)
		if asString && isString {
			s = text
		} else {
			s = o.String()
		}
	}
	if newline {
		s += "\n"
	}
	g.write(truncate(s))
}

// ---------------------------------------------------------------------------
// VM messages
// ---------------------------------------------------------------------------

// VMMessage prints a formatted message from compiled code. With vmError set
// it is a fatal error instead.
func (g *Gateway) VMMessage(t *bridge.Thread, vmError bool, format string, v1, v2, v3 int64) {
	msg := formatValues(format, v1, v2, v3)
	if vmError {
		g.ctx.Fatalf("%s", msg)
		return
	}
	g.write(msg + "\n")
}

// VMError reports an internal error detected by compiled code at where and
// aborts.
func (g *Gateway) VMError(t *bridge.Thread, where, format string, value int64) {
	msg := where
	if format != "" {
		msg += ": " + formatValues(format, value)
	}
	g.ctx.Fatalf("vm_error: %s", msg)
}
