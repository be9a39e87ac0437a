package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolsCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"tools", "--lang", "ja"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "AVAILABLE")
	assert.Contains(t, out.String(), "背景を削除")
	assert.Regexp(t, `grayscale\s+Grayscale\s+filter\s+local\s+0\s+true`, out.String())
}
