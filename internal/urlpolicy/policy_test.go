package urlpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnconfiguredManagerAllowsEverything(t *testing.T) {
	m := New()
	assert.True(t, m.IsAllowed("http://example.com/anything"))
}

func TestBlockTakesPrecedenceOverAllow(t *testing.T) {
	m := New()
	m.SetStatus("example.com", Allowed)
	m.Block("example.com")
	assert.False(t, m.IsAllowed("http://example.com/"))
	assert.True(t, m.IsBlocked("http://example.com/"))
}

func TestExplicitRejectDeniesWithinDomain(t *testing.T) {
	m := New()
	m.SetStatus("blocked.example", Rejected)
	assert.False(t, m.IsAllowed("http://blocked.example/"))
	assert.True(t, m.IsRejected("http://blocked.example/path"))
}

func TestPathPrefixBoundedAtSegment(t *testing.T) {
	assert.True(t, IsURLMatch("http://example.com/foo", "http://example.com/foo/bar"))
	assert.False(t, IsURLMatch("http://example.com/foo", "http://example.com/foobar"))
}

func TestSchemeCrossCompatibility(t *testing.T) {
	assert.True(t, IsURLMatch("http://example.com", "https://example.com"))
}

func TestReflexiveMatch(t *testing.T) {
	for _, u := range []string{"http://example.com/a/b", "https://sub.example.co.uk/x"} {
		assert.True(t, IsURLMatch(u, u), "expected %s to match itself", u)
	}
}

func TestMalformedURLIsNotMatchedNotError(t *testing.T) {
	assert.False(t, IsURLMatch("::::not a url::::", "http://example.com"))
}
