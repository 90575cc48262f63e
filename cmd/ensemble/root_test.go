// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Help(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ensemble")
	assert.Contains(t, buf.String(), "serve")
	assert.Contains(t, buf.String(), "probe")
	assert.Contains(t, buf.String(), "version")
	assert.Contains(t, buf.String(), "init")
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"version"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ensemble")
}

func TestServeCommand_RejectsMissingConfigFile(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"serve", "--config", "/nonexistent/ensemble.yaml"})

	err := root.Execute()
	assert.Error(t, err)
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--verbose", "--help"})

	err := root.Execute()
	require.NoError(t, err)
}
