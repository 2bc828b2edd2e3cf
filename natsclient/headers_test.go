package natsclient

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestReadHeader(t *testing.T) {
	assert.Nil(t, ReadHeader(nil))
	assert.Nil(t, ReadHeader(nats.Header{}))

	h := nats.Header{}
	h.Set("X-Test", "1")
	h.Add("X-List", "a")
	h.Add("X-List", "b")

	assert.Equal(t, map[string]string{"X-Test": "1", "X-List": "a,b"}, ReadHeader(h))
}

func TestBuildHeader(t *testing.T) {
	assert.Nil(t, BuildHeader(nil))
	assert.Nil(t, BuildHeader(map[string]string{}))

	h := BuildHeader(map[string]string{"A": "1", "Trace-Id": "abc"})
	assert.Equal(t, "1", h.Get("A"))
	assert.Equal(t, "abc", h.Get("Trace-Id"))

	roundTrip := ReadHeader(h)
	assert.Equal(t, "1", roundTrip["A"])
	assert.Equal(t, "abc", roundTrip["Trace-Id"])
}
