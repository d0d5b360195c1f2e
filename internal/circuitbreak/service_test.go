package circuitbreak

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerErrorWithoutListenerDoesNotBlock(t *testing.T) {
	CircuitBreakChan = nil

	TriggerError(DBService)
}

func TestTriggerErrorKeepsFirstRequest(t *testing.T) {
	Init()
	t.Cleanup(func() { CircuitBreakChan = nil })

	TriggerError(SynthflowService)
	TriggerError(MinioService)

	require.Equal(t, SynthflowService, <-CircuitBreakChan)
	require.Empty(t, CircuitBreakChan)
}
