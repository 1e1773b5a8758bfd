package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackageName(t *testing.T) {
	r := &PackageNameResolver{BasePackage: "fbas-tools/analyzer", Depth: 1}
	require.Equal(t, "internal/logger", r.PackageName())
}

func TestParseLevel(t *testing.T) {
	for _, lvl := range []LogLevel{NONE, ERROR, WARNING, INFO, DEBUG, TRACE} {
		got, err := ParseLevel(lvl.String())
		require.NoError(t, err)
		require.Equal(t, lvl, got)
	}
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, WARNING, lvl)
	_, err = ParseLevel("LOUD")
	require.ErrorContains(t, err, `unknown log level "LOUD"`)
}

func TestLevelsAndOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	UpdateGlobalConfig(Config{
		DefaultLevel:  WARNING,
		PackageLevels: map[string]LogLevel{"chatty": DEBUG},
		Writer:        buf,
	})
	t.Cleanup(func() { UpdateGlobalConfig(defaultConfig()) })

	quiet := Create("quiet")
	quiet.Info("not logged")
	quiet.Warning("logged %d", 1)
	chatty := Create("chatty")
	chatty.Debug("debug")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "logged 1", entry["message"])
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "quiet", entry["logger"])

	// loggers are shared by name and follow configuration updates
	require.Same(t, quiet, Create("quiet"))
	buf.Reset()
	UpdateGlobalConfig(Config{DefaultLevel: NONE, Writer: buf})
	quiet.Error("dropped")
	require.Zero(t, buf.Len())

	quiet.ChangeLevel(ERROR)
	quiet.Error("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestUpdateGlobalConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	conf := filepath.Join(dir, "logger-config.yaml")
	require.NoError(t, os.WriteFile(conf, []byte(`
defaultLevel: ERROR
packageLevels:
  internal/pipeline: DEBUG
outputPath: `+out+`
consoleFormat: false
`), 0600))
	require.NoError(t, UpdateGlobalConfigFromFile(conf))
	t.Cleanup(func() { UpdateGlobalConfig(defaultConfig()) })

	Create("internal/pipeline").Debug("visible")
	Create("internal/rpc").Info("hidden")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), "visible")
	require.NotContains(t, string(data), "hidden")

	require.ErrorContains(t, UpdateGlobalConfigFromFile(filepath.Join(dir, "missing.yaml")), "failed to read logger config file")
	require.NoError(t, os.WriteFile(conf, []byte("defaultLevel: LOUD\n"), 0600))
	require.ErrorContains(t, UpdateGlobalConfigFromFile(conf), "default level")
}

func TestSetDefaultLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	UpdateGlobalConfig(Config{DefaultLevel: ERROR, PackageLevels: map[string]LogLevel{"pinned": ERROR}, Writer: buf})
	t.Cleanup(func() { UpdateGlobalConfig(defaultConfig()) })

	SetDefaultLevel(DEBUG)
	Create("free").Debug("free debug")
	Create("pinned").Debug("pinned debug")
	require.Contains(t, buf.String(), "free debug")
	require.NotContains(t, buf.String(), "pinned debug")
}
