package crosswire

import (
	"sync"
)

// testLogger captures log calls for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []testLogEntry
}

type testLogEntry struct {
	level string
	msg   string
	args  []any
}

func (l *testLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, testLogEntry{level: level, msg: msg, args: args})
}

func (l *testLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *testLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *testLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// testPlainModule is a configurable plain module for tests.
type testPlainModule struct {
	ModuleBase

	emitters  []EmitterBinding
	detectors []DetectorBinding
	onLoaded  func() error
	onStart   func(*Settings) error
	onFinish  func() error

	finishCalls int
}

func (m *testPlainModule) Emitters() []EmitterBinding   { return m.emitters }
func (m *testPlainModule) Detectors() []DetectorBinding { return m.detectors }

func (m *testPlainModule) OnLoaded() error {
	if m.onLoaded != nil {
		return m.onLoaded()
	}
	return nil
}

func (m *testPlainModule) OnStart(s *Settings) error {
	if m.onStart != nil {
		return m.onStart(s)
	}
	return nil
}

func (m *testPlainModule) OnFinish() error {
	m.finishCalls++
	if m.onFinish != nil {
		return m.onFinish()
	}
	return nil
}

// testAsyncModule is a configurable async module for tests.
type testAsyncModule struct {
	AsyncBase

	emitters  []EmitterBinding
	detectors []DetectorBinding
	onStart   func(*Settings) error
	onFinish  func() error
	run       func() error // not consulted; testRunnerModule supplies a custom loop

	finishCalls int
}

func (m *testAsyncModule) Emitters() []EmitterBinding   { return m.emitters }
func (m *testAsyncModule) Detectors() []DetectorBinding { return m.detectors }

func (m *testAsyncModule) OnStart(s *Settings) error {
	if m.onStart != nil {
		return m.onStart(s)
	}
	return nil
}

func (m *testAsyncModule) OnFinish() error {
	m.finishCalls++
	if m.onFinish != nil {
		return m.onFinish()
	}
	return nil
}

// testRunnerModule is an async module with a custom run loop.
type testRunnerModule struct {
	testAsyncModule

	runBody func(m *testRunnerModule) error
}

func (m *testRunnerModule) Run() error {
	return m.runBody(m)
}

// testSlaveModule is a configurable slave module for tests.
type testSlaveModule struct {
	SlaveBase

	detectors []DetectorBinding
	onStart   func(*Settings) error

	finishCalls int
}

func (m *testSlaveModule) Detectors() []DetectorBinding { return m.detectors }

func (m *testSlaveModule) OnStart(s *Settings) error {
	if m.onStart != nil {
		return m.onStart(s)
	}
	return nil
}

func (m *testSlaveModule) OnFinish() error {
	m.finishCalls++
	return nil
}
