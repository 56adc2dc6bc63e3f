package config

import (
	"testing"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/iostreams/iostreamstest"
	"github.com/stretchr/testify/assert"
)

func TestNewCmdConfig(t *testing.T) {
	tio := iostreamstest.New()
	f := &cmdutil.Factory{IOStreams: tio.IOStreams}

	cmd := NewCmdConfig(f)
	assert.Equal(t, "config", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"init", "check"}, names)
}
