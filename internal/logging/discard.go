package logging

// DiscardLogger drops every message. Benchmarks and tests that assert on
// behavior rather than log output use it to keep stderr quiet.
//
// Fatalf is also a no-op here: a DiscardLogger never trips a FatalHandler,
// so production code should wire a real logger instead.
type DiscardLogger struct{}

// Discard is the shared discard logger.
var Discard Logger = &DiscardLogger{}

func (l *DiscardLogger) Errorf(format string, args ...any) {}
func (l *DiscardLogger) Warnf(format string, args ...any)  {}
func (l *DiscardLogger) Infof(format string, args ...any)  {}
func (l *DiscardLogger) Debugf(format string, args ...any) {}
func (l *DiscardLogger) Fatalf(format string, args ...any) {}
