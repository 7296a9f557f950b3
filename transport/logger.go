package transport

import "log"

// Logger is the sink every transport component writes diagnostics to.
// Its default implementation is silent; callers that want visibility into
// reconnects, retries, and host-status transitions supply DebugLogger or
// their own implementation.
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

type DefaultLogger struct{}

func (DefaultLogger) Print(_ ...any)            {}
func (DefaultLogger) Printf(_ string, _ ...any) {}
func (DefaultLogger) Println(_ ...any)          {}

type DebugLogger struct{}

func (DebugLogger) Print(v ...any)                 { log.Print(v...) }
func (DebugLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (DebugLogger) Println(v ...any)               { log.Println(v...) }
