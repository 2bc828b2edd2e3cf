package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		status    Status
		state     string
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{Healthy("c", "ok"), StateHealthy, true, false, false},
		{Degraded("c", "slow"), StateDegraded, false, true, false},
		{Unhealthy("c", "down"), StateUnhealthy, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, "c", tt.status.Component)
			assert.Equal(t, tt.state, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.Equal(t, tt.healthy, tt.status.IsHealthy())
			assert.Equal(t, tt.degraded, tt.status.IsDegraded())
			assert.Equal(t, tt.unhealthy, tt.status.IsUnhealthy())
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestAggregate(t *testing.T) {
	t.Run("empty is healthy", func(t *testing.T) {
		s := Aggregate("natspad", nil)
		assert.True(t, s.IsHealthy())
		assert.Empty(t, s.SubStatuses)
	})

	t.Run("degraded wins over healthy", func(t *testing.T) {
		s := Aggregate("natspad", []Status{Healthy("a", ""), Degraded("b", "")})
		assert.True(t, s.IsDegraded())
		assert.Equal(t, "1 component degraded", s.Message)
		assert.Len(t, s.SubStatuses, 2)
	})

	t.Run("unhealthy wins over degraded", func(t *testing.T) {
		s := Aggregate("natspad", []Status{Unhealthy("a", ""), Degraded("b", ""), Unhealthy("c", "")})
		assert.True(t, s.IsUnhealthy())
		assert.Equal(t, "2 components unhealthy", s.Message)
	})

	t.Run("children are copied", func(t *testing.T) {
		children := []Status{Healthy("a", "")}
		s := Aggregate("natspad", children)
		children[0].Component = "changed"
		require.Len(t, s.SubStatuses, 1)
		assert.Equal(t, "a", s.SubStatuses[0].Component)
	})
}

func TestFromError(t *testing.T) {
	s := FromError("subscription k", fmt.Errorf("dial nats://user:pw@10.0.0.5:4222 failed"))
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "dial [URL] failed", s.Message)

	assert.Equal(t, "unknown error", FromError("x", nil).Message)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain failure", "plain failure"},
		{"connect to tls://broker.internal:4443 refused", "connect to [URL] refused"},
		{"open /etc/natspad/creds.yaml: denied", "open [PATH]: denied"},
		{"dial tcp 192.168.1.10 timeout", "dial tcp [IP] timeout"},
		{"listen on host:8222", "listen on host[PORT]"},
		{"auth token=abc123 rejected", "auth [REDACTED] rejected"},
		{"subject orders.> denied", "subject orders.> denied"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}
