package util

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggerConcurrentWithInit(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l := GetLogger()
			assert.NotNil(t, l)
			l.Debug("concurrent read")
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, InitLogger("development", "warn"))
		}()
	}
	wg.Wait()

	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
	require.NoError(t, InitLogger("development", ""))
	SyncLogger()
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.ErrorLevel, levelFromString("error"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("bogus"))
}

func TestStartSpanWithoutProvider(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, span := StartSpan(context.Background(), "noop")
			assert.NotNil(t, ctx)
			EndSpan(span, nil)
		}()
	}
	wg.Wait()
}
