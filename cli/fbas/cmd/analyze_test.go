package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/pipeline"
)

const threeNodes = `[
	{"publicKey": "A", "name": "alpha", "isp": "isp-1", "quorumSet": {"threshold": 2, "validators": ["A", "B", "C"]}},
	{"publicKey": "B", "name": "beta", "isp": "isp-1", "quorumSet": {"threshold": 2, "validators": ["A", "B", "C"]}},
	{"publicKey": "C", "name": "gamma", "isp": "isp-2", "quorumSet": {"threshold": 2, "validators": ["A", "B", "C"]}}
]`

// testConsole captures the output of commands run by execCmd
var testConsole *bytes.Buffer

func setupTestConsole(t *testing.T, terminal bool) *bytes.Buffer {
	t.Helper()
	w := &bytes.Buffer{}
	testConsole = w
	prev := isTerminal
	isTerminal = func(io.Writer) bool { return terminal }
	t.Cleanup(func() {
		testConsole = nil
		isTerminal = prev
	})
	return w
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execCmd(ctx context.Context, homeDir string, args ...string) error {
	app := New()
	if testConsole != nil {
		app.baseCmd.SetOut(testConsole)
	}
	app.baseCmd.SetArgs(append(args, "--home", homeDir))
	return app.Execute(ctx)
}

func parseOutput(t *testing.T, w *bytes.Buffer) *pipeline.Output {
	t.Helper()
	out := &pipeline.Output{}
	require.NoError(t, json.Unmarshal(w.Bytes(), out))
	return out
}

func TestAnalyze_JSON(t *testing.T) {
	w := setupTestConsole(t, false)
	home := t.TempDir()
	nodes := writeTestFile(t, home, "nodes.json", threeNodes)

	require.NoError(t, execCmd(context.Background(), home, "analyze", "--fbas", nodes))
	require.Equal(t, 1, strings.Count(w.String(), "\n"))
	out := parseOutput(t, w)
	require.Equal(t, 3, out.MinimalQuorumsSize)
	require.True(t, out.HasIntersection)
	require.Equal(t, 2, out.SmallestBlockingSetSize)
	require.Equal(t, 1, out.SmallestSplittingSetSize)
	require.Equal(t, []string{"A", "B", "C"}, out.TopTier)
	require.True(t, out.SymmetricTopTierExists)
	require.False(t, out.CacheHit)
}

func TestAnalyze_FaultyNodes(t *testing.T) {
	w := setupTestConsole(t, false)
	home := t.TempDir()
	nodes := writeTestFile(t, home, "nodes.json", threeNodes)
	faulty := writeTestFile(t, home, "faulty.json", `["A", "unknown"]`)

	require.NoError(t, execCmd(context.Background(), home, "analyze", "--fbas", nodes, "--faulty-nodes", faulty))
	out := parseOutput(t, w)
	require.Equal(t, 2, out.MinimalBlockingSetsSize)
	require.Equal(t, 1, out.SmallestBlockingSetSize)
	require.False(t, out.AlreadyBlocked)
}

func TestAnalyze_MergeByISP(t *testing.T) {
	w := setupTestConsole(t, false)
	home := t.TempDir()
	nodes := writeTestFile(t, home, "nodes.json", threeNodes)

	require.NoError(t, execCmd(context.Background(), home, "analyze", "--fbas", nodes, "--merge-by", "isps"))
	out := parseOutput(t, w)
	require.Equal(t, 2, out.TopTierSize)
}

func TestAnalyze_Stdin(t *testing.T) {
	w := setupTestConsole(t, false)
	app := New()
	app.baseCmd.SetIn(strings.NewReader(threeNodes))
	app.baseCmd.SetOut(w)
	app.baseCmd.SetArgs([]string{"analyze", "--fbas", "-", "--home", t.TempDir()})
	require.NoError(t, app.Execute(context.Background()))
	require.Equal(t, 3, parseOutput(t, w).MinimalQuorumsSize)
}

func TestAnalyze_Terminal(t *testing.T) {
	w := setupTestConsole(t, true)
	home := t.TempDir()
	nodes := writeTestFile(t, home, "nodes.json", threeNodes)

	require.NoError(t, execCmd(context.Background(), home, "analyze", "--fbas", nodes))
	require.Contains(t, w.String(), "\n  \"minimal_quorums\"")
	require.Equal(t, 3, parseOutput(t, w).MinimalQuorumsSize)
}

func TestAnalyze_CBOR(t *testing.T) {
	home := t.TempDir()
	nodes := writeTestFile(t, home, "nodes.json", threeNodes)

	w := setupTestConsole(t, false)
	require.NoError(t, execCmd(context.Background(), home, "analyze", "--fbas", nodes, "--output", "cbor"))
	out := &pipeline.Output{}
	require.NoError(t, cbor.Unmarshal(w.Bytes(), out))
	require.Equal(t, 3, out.MinimalQuorumsSize)

	// hex encoded on a terminal
	w = setupTestConsole(t, true)
	require.NoError(t, execCmd(context.Background(), home, "analyze", "--fbas", nodes, "-o", "cbor"))
	require.True(t, strings.HasSuffix(w.String(), "\n"))
	b, err := hex.DecodeString(strings.TrimSpace(w.String()))
	require.NoError(t, err)
	out = &pipeline.Output{}
	require.NoError(t, cbor.Unmarshal(b, out))
	require.True(t, out.HasIntersection)
}

func TestAnalyze_Errors(t *testing.T) {
	setupTestConsole(t, false)
	home := t.TempDir()
	nodes := writeTestFile(t, home, "nodes.json", threeNodes)
	ctx := context.Background()

	require.ErrorContains(t, execCmd(ctx, home, "analyze"), `required flag(s) "fbas" not set`)
	require.ErrorContains(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--output", "xml"), `invalid output "xml"`)
	require.ErrorContains(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--merge-by", "planets"), "unknown merge mode")
	require.ErrorContains(t, execCmd(ctx, home, "analyze", "--fbas", filepath.Join(home, "missing.json")), "reading FBAS")
	require.ErrorIs(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--node-limit", "2"), analysis.ErrTooManyNodes)
	require.ErrorContains(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--log-level", "LOUD"), `unknown log level "LOUD"`)

	notJSON := writeTestFile(t, home, "faulty.json", `A, B`)
	require.ErrorIs(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--faulty-nodes", notJSON), pipeline.ErrParse)
}

func TestAnalyze_Configuration(t *testing.T) {
	setupTestConsole(t, false)
	ctx := context.Background()

	t.Run("environment", func(t *testing.T) {
		home := t.TempDir()
		nodes := writeTestFile(t, home, "nodes.json", threeNodes)
		t.Setenv("FBAS_NODE_LIMIT", "2")
		require.ErrorIs(t, execCmd(ctx, home, "analyze", "--fbas", nodes), analysis.ErrTooManyNodes)
		// flags win over environment
		require.NoError(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--node-limit", "3"))
	})

	t.Run("config file in home", func(t *testing.T) {
		home := t.TempDir()
		nodes := writeTestFile(t, home, "nodes.json", threeNodes)
		writeTestFile(t, home, defaultConfigFile, "node-limit=2\n")
		require.ErrorIs(t, execCmd(ctx, home, "analyze", "--fbas", nodes), analysis.ErrTooManyNodes)
	})

	t.Run("explicit config file", func(t *testing.T) {
		home := t.TempDir()
		nodes := writeTestFile(t, home, "nodes.json", threeNodes)
		cfg := writeTestFile(t, home, "custom.props", "node-limit=2\n")
		require.ErrorIs(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--config", cfg), analysis.ErrTooManyNodes)
	})

	t.Run("logger config", func(t *testing.T) {
		home := t.TempDir()
		nodes := writeTestFile(t, home, "nodes.json", threeNodes)
		require.ErrorContains(t, execCmd(ctx, home, "analyze", "--fbas", nodes, "--logger-config", "missing.yaml"), "opening logger configuration file")

		writeTestFile(t, home, defaultLoggerConfigFile, "defaultLevel: LOUD\n")
		require.ErrorContains(t, execCmd(ctx, home, "analyze", "--fbas", nodes), "loading logger configuration")
	})
}

func TestVersion(t *testing.T) {
	w := setupTestConsole(t, false)
	require.NoError(t, execCmd(context.Background(), t.TempDir(), "version"))
	require.NotEmpty(t, strings.TrimSpace(w.String()))
	require.Equal(t, 1, strings.Count(w.String(), "\n"))
}
