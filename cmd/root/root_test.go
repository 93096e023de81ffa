package root

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCommand(t *testing.T) {
	command := NewCommand()
	var names []string
	for _, sub := range command.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "sign"}, names)

	serve, _, err := command.Find([]string{"serve"})
	assert.NoError(t, err)
	for _, flag := range []string{"listen", "management_listen", "grpc_listen", "cache_root", "max_dimension", "storage_root", "config"} {
		assert.NotNil(t, serve.Flags().Lookup(flag), flag)
	}

	sign, _, err := command.Find([]string{"sign"})
	assert.NoError(t, err)
	assert.NotNil(t, sign.Flags().Lookup("ttl"))
	assert.Nil(t, sign.Flags().Lookup("listen"))
}
