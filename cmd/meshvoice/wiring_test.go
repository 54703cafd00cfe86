package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialMirror(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"user":{"id":"alice","user_name":"Alice"},"inVoiceChannel":{"id":2,"name":"ops"},"isPresetChannels":false}`), 0o600))
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"user":`), 0o600))

	cases := []struct {
		name     string
		path     string
		preset   bool
		wantUser string
		wantPre  bool
		warned   bool
	}{
		{"no file configured", "", false, "", false, false},
		{"loaded", good, false, "alice", false, false},
		{"node preset wins", good, true, "alice", true, false},
		{"missing file", filepath.Join(dir, "absent.json"), false, "", false, false},
		{"undecodable file is reported", broken, true, "", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			m := initialMirror(tc.path, tc.preset, zap.New(core).Sugar())

			if tc.wantUser == "" {
				assert.Nil(t, m.User)
			} else {
				require.NotNil(t, m.User)
				assert.Equal(t, tc.wantUser, m.User.ID)
			}
			assert.Equal(t, tc.wantPre, m.IsPresetChannels)
			assert.Equal(t, tc.warned, logs.FilterMessage("failed to load mirror file").Len() == 1)
		})
	}
}
