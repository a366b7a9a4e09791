package telemetry

import "sync"

// Record is one call made against a FakeLogger.
type Record struct {
	Level string
	Msg   string
	Err   error
	KV    []any
}

// FakeLogger buffers every call for test assertions instead of writing
// anywhere.
type FakeLogger struct {
	mu      sync.Mutex
	base    []any
	Records *[]Record
}

// NewFake returns a FakeLogger backed by a fresh, empty record buffer.
func NewFake() *FakeLogger {
	records := []Record{}
	return &FakeLogger{Records: &records}
}

func (f *FakeLogger) record(level, msg string, err error, kv []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.Records = append(*f.Records, Record{Level: level, Msg: msg, Err: err, KV: append(append([]any{}, f.base...), kv...)})
}

func (f *FakeLogger) Debug(msg string, kv ...any)            { f.record("debug", msg, nil, kv) }
func (f *FakeLogger) Info(msg string, kv ...any)              { f.record("info", msg, nil, kv) }
func (f *FakeLogger) Warn(msg string, kv ...any)              { f.record("warn", msg, nil, kv) }
func (f *FakeLogger) Error(msg string, err error, kv ...any)  { f.record("error", msg, err, kv) }

func (f *FakeLogger) With(kv ...any) Logger {
	return &FakeLogger{base: append(append([]any{}, f.base...), kv...), Records: f.Records}
}
