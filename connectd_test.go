// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectd/playback"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connectd.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestReadConfigRequiresSessionURL(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := writeConfig(t, "[backend]\ncommand = \"aplay\"\n")
	err := readConfig(&path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.url")
}

func TestReadConfigAppliesDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := writeConfig(t, "[session]\nurl = \"ws://localhost:4381/connect\"\n")
	require.NoError(t, readConfig(&path))

	assert.Equal(t, "aplay", viper.GetString("backend.command"))
	assert.Equal(t, 44100, viper.GetInt("backend.sample-rate"))
	assert.Equal(t, 2, viper.GetInt("backend.channels"))
	assert.True(t, viper.GetBool("mpris.enabled"))
	assert.Equal(t, 1.0, viper.GetFloat64("volume.initial"))
	assert.Equal(t, playback.ResumeAtPosition, resumePolicy())
}

func TestResumePolicyRestart(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := writeConfig(t, "[session]\nurl = \"ws://localhost:4381/connect\"\n\n[backend]\nresume = \"restart\"\n")
	require.NoError(t, readConfig(&path))
	assert.Equal(t, playback.RestartTrack, resumePolicy())
}
