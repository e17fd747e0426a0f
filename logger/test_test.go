package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLoggerMethods(t *testing.T) {
	logger := NewTestLogger()

	logger.Trace("Trace message", 1)
	logger.Debug("Debug message", 2)
	logger.Info("Info message", 3)
	logger.Warn("Warn message", 4)
	logger.Error("Error message", 5)

	logs := logger.Logs()
	assert.Len(t, logs, 5)

	assert.Equal(t, "TRACE", logs[0].Severity)
	assert.Equal(t, "Trace message", logs[0].Message)
	assert.Equal(t, []interface{}{1}, logs[0].Arguments)

	assert.Equal(t, "WARNING", logs[3].Severity)
	assert.Equal(t, "Warn message", logs[3].Message)

	assert.Equal(t, "ERROR", logs[4].Severity)
	assert.True(t, logger.Contains("ERROR", "Error"))
	assert.False(t, logger.Contains("INFO", "Error"))
}

func TestTestLoggerWithSharesRecord(t *testing.T) {
	logger := NewTestLogger()
	child := WithKV(logger, "path", "/tmp/a")
	child.Info("hashed")

	logs := logger.Logs()
	assert.Len(t, logs, 1)
	assert.Equal(t, "/tmp/a", logs[0].Metadata["path"])
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Debug("message %d", i)
		}()
	}
	wg.Wait()
	assert.Len(t, logger.Logs(), 20)
}
