// internal/di/container_test.go
package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct{ name string }

func TestResolve(t *testing.T) {
	c := NewContainer()
	c.Register("greeter", &greeter{name: "hi"})
	c.Register("number", 42)

	g, err := Resolve[*greeter](c, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "hi", g.name)

	_, err = Resolve[*greeter](c, "number")
	assert.Error(t, err)

	_, err = Resolve[*greeter](c, "missing")
	assert.Error(t, err)

	assert.True(t, c.Has("number"))
	assert.Equal(t, []string{"greeter", "number"}, c.GetNames())

	assert.Panics(t, func() { MustResolve[string](c, "number") })
}
