package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterOnlyThrottlesKeystrokeFrames(t *testing.T) {
	c := NewClient(nil, nil, "u1")

	limited := 0
	for i := 0; i < inboundBurst*2; i++ {
		if !c.admit(Inbound{Type: InActivity}) {
			limited++
		}
	}
	assert.Positive(t, limited)
	assert.False(t, c.admit(Inbound{Type: InTyping}))

	for _, typ := range []string{InSend, InEdit, InDelete, InRead, InOpenInbox, InVisibility, InUnload, InStopTyping} {
		assert.True(t, c.admit(Inbound{Type: typ}), typ)
	}
}
