package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_JSONKeepsProgress(t *testing.T) {
	h := newHarness(t, true, true)
	s := h.newSession()
	h.complete(t, s, StepPassword)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := &Session{}
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, h.chain.State(s), h.chain.State(restored))
	assert.Equal(t, StepOTP, h.chain.NextStep(restored))

	res := h.chain.Submit(t.Context(), StepOTP, Credential{Code: h.codes.lastCode("admin")}, restored)
	assert.True(t, res.Success, "pending code survives encoding")
}

func TestSession_JSONOmitsInflight(t *testing.T) {
	s := NewSession("abc", newFakeClock().Now())
	s.mu.Lock()
	s.claimLocked(StepPassword)
	s.mu.Unlock()

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "inflight")

	restored := &Session{}
	require.NoError(t, json.Unmarshal(data, restored))
	restored.mu.Lock()
	defer restored.mu.Unlock()
	assert.True(t, restored.claimLocked(StepPassword))
}
