package logger

import "github.com/stretchr/testify/mock"

// MockLogger records calls for assertions in tests.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger { return &MockLogger{} }

func (m *MockLogger) Debug(msg string, kv ...any) { m.Called(msg, kv) }
func (m *MockLogger) Info(msg string, kv ...any)  { m.Called(msg, kv) }
func (m *MockLogger) Warn(msg string, kv ...any)  { m.Called(msg, kv) }
func (m *MockLogger) Error(msg string, kv ...any) { m.Called(msg, kv) }

func (m *MockLogger) With(kv ...any) Logger {
	args := m.Called(kv)
	return args.Get(0).(Logger)
}

func (m *MockLogger) Level() Level {
	return m.Called().Get(0).(Level)
}

func (m *MockLogger) SetLevel(level Level) { m.Called(level) }
