package logging

import "go.uber.org/zap/zapcore"

// Config selects how the process logger is built.
type Config struct {
	// Level is the minimum level emitted.
	Level zapcore.Level `yaml:"level"`
}
