package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/ingest"
)

const testSales = `date,state,amount,channel,id
2023-02-10,CO,60000.00,direct,A-1
2023-08-15,co,"$50,000.00",direct,A-2
2024-03-01,GA,1000.00,amazon,A-3
`

// cliEnv runs nexus commands against a database in a temp directory.
type cliEnv struct {
	t      *testing.T
	dir    string
	dbPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	return &cliEnv{t: t, dir: dir, dbPath: filepath.Join(dir, "nexus.db")}
}

// run executes one command with a fresh command tree and returns its stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{
		"--db", e.dbPath,
		"--env-file", filepath.Join(e.dir, "missing.env"),
		"--log-level", "error",
	}, args...))
	err := root.Execute()
	return stdout.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "nexus %s", strings.Join(args, " "))
	return out
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t)
	out := env.mustRun("version")
	assert.Contains(t, out, "nexus version dev")
}

func TestMigrateStatus(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("migrate")

	out := env.mustRun("migrate", "--status")
	assert.Contains(t, out, "Schema version")
}

func TestCalculateWorkflow(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("analysis", "create", "--id", "acme", "--name", "Acme Corp", "--as-of", "2024-12-31")
	assert.Contains(t, out, "Created analysis acme")

	csvPath := env.writeFile("sales.csv", testSales)
	out = env.mustRun("import", "acme", csvPath)
	assert.Contains(t, out, "Imported 3 transactions (0 duplicates skipped)")

	// Re-importing the same export inserts nothing.
	out = env.mustRun("import", "acme", csvPath, "--no-checkpoint")
	assert.Contains(t, out, "Imported 0 transactions (3 duplicates skipped)")

	out = env.mustRun("physical", "add", "acme", "--state", "tx", "--established", "2024-06-01", "--description", "warehouse")
	assert.Contains(t, out, "Recorded physical presence #1 in TX from 2024-06-01")
	env.mustRun("physical", "add", "acme", "--state", "ca", "--established", "2022-01-01", "--ended", "2023-03-31", "--description", "trade show booth")

	out = env.mustRun("physical", "list", "acme")
	assert.Regexp(t, `TX\s+2024-06-01\s+-\s+active\s+warehouse`, out)
	assert.Regexp(t, `CA\s+2022-01-01\s+2023-03-31\s+ended\s+trade show booth`, out)

	out = env.mustRun("calculate", "acme", "--no-progress", "--details")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "Exposure Summary")
	assert.Contains(t, out, "CO")
	assert.Contains(t, out, "TX")

	out = env.mustRun("results", "acme", "--state", "co")
	assert.Contains(t, out, "CO")
	assert.Contains(t, out, "economic")
	assert.NotContains(t, out, "GA")

	out = env.mustRun("runs", "list", "acme")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "Run")

	out = env.mustRun("analysis", "show", "acme")
	assert.Contains(t, out, "Acme Corp")
	assert.Contains(t, out, "complete")
}

func TestImport_Errors(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("analysis", "create", "--id", "acme", "--name", "Acme")

	good := env.writeFile("good.csv", testSales)
	_, err := env.run("import", "missing", good)
	require.Error(t, err)
	var userErr *common.UserError
	assert.ErrorAs(t, err, &userErr)

	bad := env.writeFile("bad.csv", "date,state,amount\n2024-01-01,CO,100\nnot-a-date,CO,5\n")
	_, err = env.run("import", "acme", bad, "--strict")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrInvalidRows)

	out := env.mustRun("import", "acme", bad, "--dry-run")
	assert.Contains(t, out, "Dry run: 1 transactions would be imported")
	assert.Contains(t, out, "row 3")

	out = env.mustRun("import", "acme", bad)
	assert.Contains(t, out, "Imported 1 transactions")
}

func TestResults_BeforeCalculate(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("analysis", "create", "--id", "acme", "--name", "Acme")

	_, err := env.run("results", "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nexus calculate acme")

	_, err = env.run("results", "acme", "--state", "ZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state code")
}

func TestCalculate_NoTransactions(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("analysis", "create", "--id", "empty", "--name", "Empty", "--as-of", "2024-12-31")

	out, err := env.run("calculate", "empty", "--no-progress")
	require.Error(t, err)
	assert.Contains(t, out, "error")
}

func TestRulesCheck(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("rules", "check", "--as-of", "2024-06-30")
	assert.Contains(t, out, "embedded defaults")
	assert.Contains(t, out, "fully covered")

	gappy := env.writeFile("rules.yaml", `version: 1
states:
  CO:
    threshold:
      - effective_from: "2019-06-01"
        revenue: "100000"
        operator: or
        lookback: current_or_previous_year
`)
	out, err := env.run("rules", "check", gappy, "--as-of", "2024-06-30")
	require.Error(t, err)
	assert.Contains(t, out, "CO")
	assert.Contains(t, out, "rate")
}

func TestRulesShow(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("rules", "show", "co", "--as-of", "2024-06-30")
	assert.Contains(t, out, "Colorado")
	assert.Contains(t, out, "$100,000.00 in sales")
	assert.Contains(t, out, "Rate:")

	_, err := env.run("rules", "show", "XX")
	require.Error(t, err)
}

func TestCheckpointCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("analysis", "create", "--id", "acme", "--name", "Acme")

	out := env.mustRun("checkpoint", "create", "--tag", "before", "--description", "clean slate")
	assert.Contains(t, out, "Created checkpoint before")
	assert.Contains(t, out, "clean slate")

	env.mustRun("analysis", "create", "--id", "second", "--name", "Second")

	out = env.mustRun("checkpoint", "list")
	assert.Contains(t, out, "before")
	assert.Contains(t, out, "analyses=1")

	// Without --force the empty answer declines.
	out = env.mustRun("checkpoint", "restore", "before")
	assert.Contains(t, out, "Restore cancelled.")

	out = env.mustRun("checkpoint", "restore", "before", "--force")
	assert.Contains(t, out, "Restored from checkpoint before")

	out = env.mustRun("analysis", "list")
	assert.Contains(t, out, "acme")
	assert.NotContains(t, out, "second")

	out = env.mustRun("checkpoint", "delete", "before", "--force")
	assert.Contains(t, out, "Deleted checkpoint before")

	_, err := env.run("checkpoint", "delete", "before", "--force")
	require.Error(t, err)
}

func TestFormatRowCounts(t *testing.T) {
	assert.Equal(t, "empty", formatRowCounts(nil))
	assert.Equal(t, "analyses=1 transactions=12", formatRowCounts(map[string]int{
		"transactions": 12,
		"analyses":     1,
		"runs":         0,
	}))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "2.0 MB", formatFileSize(2*1024*1024))
}
