package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceWriter(t *testing.T) {
	t.Run("stdio MCP keeps spans off stdout", func(t *testing.T) {
		assert.Equal(t, os.Stderr, traceWriter(true))
	})

	t.Run("spans go to stdout otherwise", func(t *testing.T) {
		assert.Equal(t, os.Stdout, traceWriter(false))
	})
}
