package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standin/internal/config"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunSetup_Telegram(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	answers := strings.Join([]string{
		"Dana",          // persona name
		"Europe/Berlin", // timezone
		"2",             // gemini
		"",              // keep ${GEMINI_API_KEY}
		"1",             // telegram
		"123:abc",       // bot token
		"987654",        // owner id
		"",              // self conversation defaults to owner id
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runSetup(cfgPath, strings.NewReader(answers), &out))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Dana", cfg.Persona.Name)
	assert.Equal(t, "Europe/Berlin", cfg.General.Timezone)
	assert.Equal(t, "gemini", cfg.General.DefaultProvider)
	assert.Equal(t, "gemini", cfg.General.FailoverChain[0])
	assert.True(t, cfg.Transports.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Transports.Telegram.Token)
	assert.Equal(t, []string{"987654"}, cfg.OwnerIDs()["telegram"])
	assert.Equal(t, "telegram", cfg.Owner.SelfTransport)
	assert.Equal(t, "987654", cfg.Owner.SelfConversation)
	assert.Contains(t, out.String(), "Config saved to")
}

func TestRunSetup_InvalidTimezoneRejected(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	answers := "Dana\nMars/Olympus\n1\n\n1\n\n\n"

	err := runSetup(cfgPath, strings.NewReader(answers), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general.timezone")
	_, statErr := os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(statErr), "invalid config must not be written")
}

func TestRenderService(t *testing.T) {
	unit := renderService(systemdTemplate, map[string]string{
		"{{EXEC}}":   "/usr/local/bin/standin",
		"{{CONFIG}}": "/home/d/.standin/config.json",
	})
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/standin run --config /home/d/.standin/config.json")
	assert.NotContains(t, unit, "{{")
}

func TestPlatformService(t *testing.T) {
	svc, err := platformService("linux", "/home/d", "/usr/bin/standin", "/home/d/.standin/config.json")
	require.NoError(t, err)
	assert.Equal(t, "/home/d/.config/systemd/user/standin.service", svc.path)
	assert.Contains(t, svc.body, "ExecStart=/usr/bin/standin run --config /home/d/.standin/config.json")

	svc, err = platformService("darwin", "/Users/d", "/usr/local/bin/standin", "/Users/d/.standin/config.json")
	require.NoError(t, err)
	assert.Equal(t, "/Users/d/Library/LaunchAgents/com.standin.run.plist", svc.path)
	assert.Contains(t, svc.body, "<string>/Users/d/.standin/logs/standin.log</string>")
	assert.NotNil(t, svc.setup)

	_, err = platformService("windows", "C:/", "", "")
	assert.Error(t, err)
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	db := filepath.Join(src, "standin.db")
	cfgFile := filepath.Join(src, "config.json")
	rules := filepath.Join(src, "rules.yaml")
	require.NoError(t, os.WriteFile(db, []byte("sqlite"), 0o644))
	require.NoError(t, os.WriteFile(cfgFile, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(rules, []byte("spam: []"), 0o644))

	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	require.NoError(t, writeBundle(archive, []bundleFile{
		{role: "db", path: db},
		{role: "config", path: cfgFile},
		{role: "rules", path: rules},
	}, time.Now()))

	dst := t.TempDir()
	dest := map[string]string{
		"db":     filepath.Join(dst, "data", "renamed.db"),
		"config": filepath.Join(dst, "config.json"),
		"rules":  filepath.Join(dst, "my-rules.yaml"),
	}
	restored, err := readBundle(archive, dest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dest["db"], dest["config"], dest["rules"]}, restored)

	got, err := os.ReadFile(dest["rules"])
	require.NoError(t, err)
	assert.Equal(t, "spam: []", string(got))
}

func TestReadBundle_RejectsPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o644))
	_, err := readBundle(path, map[string]string{})
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 MB", formatSize(2*1024*1024))
}
