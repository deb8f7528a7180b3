package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindLookupUnbind(t *testing.T) {
	r := New()

	_, ok := r.Lookup("c1")
	assert.False(t, ok, "lookup before bind should miss")

	r.Bind("c1", "tok-1", "s1")

	b, ok := r.Lookup("c1")
	assert.True(t, ok)
	assert.Equal(t, Binding{GroupID: "tok-1", SessionID: "s1"}, b)

	b, ok = r.Unbind("c1")
	assert.True(t, ok)
	assert.Equal(t, "s1", b.SessionID)

	_, ok = r.Lookup("c1")
	assert.False(t, ok)
}

func TestUnbindIsIdempotent(t *testing.T) {
	r := New()
	r.Bind("c1", "tok-1", "s1")

	_, ok := r.Unbind("c1")
	assert.True(t, ok)

	_, ok = r.Unbind("c1")
	assert.False(t, ok, "second unbind must report not-found")
	assert.Equal(t, 0, r.Len())
}

func TestUnbindUnknownConnection(t *testing.T) {
	r := New()
	_, ok := r.Unbind("never-bound")
	assert.False(t, ok)
}

func TestSessionRefs(t *testing.T) {
	r := New()
	r.Bind("c1", "tok-1", "s1")
	r.Bind("c2", "tok-1", "s1")
	r.Bind("c3", "tok-1", "s2")

	assert.Equal(t, 2, r.SessionRefs("s1"))
	assert.Equal(t, 1, r.SessionRefs("s2"))
	assert.Equal(t, 0, r.SessionRefs("s3"))

	r.Unbind("c1")
	assert.Equal(t, 1, r.SessionRefs("s1"))
}
