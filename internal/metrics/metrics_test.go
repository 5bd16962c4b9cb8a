package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncRateLimitDrop_DefaultsToGlobal(t *testing.T) {
	before := testutil.ToFloat64(rateLimitDrops.WithLabelValues("global"))
	IncRateLimitDrop("")
	IncRateLimitDrop("global")
	after := testutil.ToFloat64(rateLimitDrops.WithLabelValues("global"))
	assert.Equal(t, before+2, after)
}

func TestIncRateLimitDrop_ByPrefix(t *testing.T) {
	before := testutil.ToFloat64(rateLimitDrops.WithLabelValues("/api/chat"))
	IncRateLimitDrop("/api/chat")
	assert.Equal(t, before+1, testutil.ToFloat64(rateLimitDrops.WithLabelValues("/api/chat")))
}
