package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"
	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/monitor"
	"github.com/GabrielNunesIT/adhoc-collector/internal/testutil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestApplyCLIOverrides(t *testing.T) {
	path := writeConfig(t, `
jobs:
  - name: nightly
    files: [/var/log/app/*.log]
`)

	tests := []struct {
		name    string
		flags   map[string]string
		wantErr bool
		check   func(*testing.T, *config.Config)
	}{
		{
			name: "no flags",
			check: func(t *testing.T, cfg *config.Config) {
				assert.Len(t, cfg.Jobs, 1)
			},
		},
		{
			name:  "command line job",
			flags: map[string]string{"job": "manual", "file": "/tmp/a.log,/tmp/b.log", "destination": "archive"},
			check: func(t *testing.T, cfg *config.Config) {
				require.Len(t, cfg.Jobs, 2)
				assert.Equal(t, "manual", cfg.Jobs[1].Name)
				assert.Equal(t, []string{"/tmp/a.log", "/tmp/b.log"}, cfg.Jobs[1].Files)
				assert.Equal(t, "archive", cfg.Jobs[1].QueueKey())
			},
		},
		{
			name:  "stdout format",
			flags: map[string]string{"stdout": "true", "stdout-format": "text"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.Emitters.Stdout.Enabled)
				assert.Equal(t, "text", cfg.Emitters.Stdout.Format)
			},
		},
		{
			name:    "file without job",
			flags:   map[string]string{"file": "/tmp/a.log"},
			wantErr: true,
		},
		{
			name:    "job clashes with config",
			flags:   map[string]string{"job": "nightly", "file": "/tmp/a.log"},
			wantErr: true,
		},
		{
			name:    "job without files",
			flags:   map[string]string{"job": "manual"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile, logLevel := path, "info"
			cmd := NewRunCmd(&cfgFile, &logLevel)
			for k, v := range tt.flags {
				require.NoError(t, cmd.Flags().Set(k, v))
			}

			cfg, err := loadConfig(cmd, cfgFile)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestPrintCheckpoints(t *testing.T) {
	log := testutil.NewTestLogger()
	store := checkpoint.NewStore(config.CheckpointConfig{Dir: t.TempDir()}, monitor.New(log), log)

	var empty bytes.Buffer
	require.NoError(t, printCheckpoints(&empty, store))
	assert.Contains(t, empty.String(), "No checkpoints found")

	key := checkpoint.FileCheckpointKey{
		DevInode: checkpoint.DevInode{Dev: 1, Inode: 2},
		FileName: "/var/log/a.log",
		FileSize: 100,
	}
	store.Create("nightly", []checkpoint.FileCheckpointKey{key})
	store.UpdateFileCheckpoint("nightly", key, checkpoint.FileUpdate{Offset: 40, Status: checkpoint.StatusLoading})

	var out bytes.Buffer
	require.NoError(t, printCheckpoints(&out, store))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"JOB", "FILE", "STATUS", "OFFSET", "SIZE", "PROGRESS", "UPDATED"}, strings.Fields(lines[0]))

	row := strings.Fields(lines[1])
	assert.Equal(t, []string{"nightly", "/var/log/a.log", "loading", "40", "100", "B", "40%"}, row[:7])
	assert.Contains(t, strings.ToLower(lines[2]), "total: 1 jobs, 1 files")
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(logPath, []byte("x\n"), 0o644))

	path := writeConfig(t, `
jobs:
  - name: nightly
    files: [`+logPath+`]
    destination: archive
`)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Jobs:      1 configured")
	assert.Contains(t, out, "Emitters:  1 enabled")
	assert.Contains(t, out, "nightly: 1 files -> archive")
}

func TestValidateCmd_NoEmitters(t *testing.T) {
	path := writeConfig(t, `
emitters:
  stdout:
    enabled: false
`)

	_, err := execute(t, "validate", "--config", path)
	assert.ErrorContains(t, err, "no emitters enabled")
}

func TestCheckpointsCmd_MissingDir(t *testing.T) {
	path := writeConfig(t, "loglevel: info\n")
	missing := filepath.Join(t.TempDir(), "absent")

	out, err := execute(t, "checkpoints", "--config", path, "--dir", missing)
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoints in "+missing)

	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "inspection must not create the directory")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "adhoc-collector "+Version+"\n", out)
}
