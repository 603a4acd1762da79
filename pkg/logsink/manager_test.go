package logsink

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

var fixedNow = time.Date(2026, 1, 19, 12, 30, 45, 0, time.Local)

func testManager(t *testing.T, level launchconfig.LogLevel) (*Manager, string) {
	t.Helper()
	parent := t.TempDir()
	m := NewManager(filepath.Join(parent, DefaultRoot), DefaultArchivePrefix, level)
	m.now = func() time.Time { return fixedNow }
	return m, parent
}

func TestPrepare_CreatesMissingRoot(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelWarn)

	require.NoError(t, m.Prepare())
	st, err := os.Stat(m.Root())
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Empty(t, m.Archived())
}

func TestPrepare_ArchivesExistingRoot(t *testing.T) {
	m, parent := testManager(t, launchconfig.LevelWarn)
	require.NoError(t, os.MkdirAll(m.Root(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "storage.log"), []byte("old\n"), 0644))

	require.NoError(t, m.Prepare())

	want := filepath.Join(parent, "logs_parsec_archived_2026-01-19_12-30-45")
	assert.Equal(t, want, m.Archived())
	b, err := os.ReadFile(filepath.Join(want, "storage.log"))
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(b))

	entries, err := os.ReadDir(m.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepare_SameSecondGetsSuffix(t *testing.T) {
	m, parent := testManager(t, launchconfig.LevelWarn)

	require.NoError(t, os.MkdirAll(m.Root(), 0755))
	require.NoError(t, m.Prepare())
	require.NoError(t, m.Prepare())

	assert.Equal(t, filepath.Join(parent, "logs_parsec_archived_2026-01-19_12-30-45-1"), m.Archived())
	_, err := os.Stat(filepath.Join(parent, "logs_parsec_archived_2026-01-19_12-30-45"))
	assert.NoError(t, err)
}

func TestPrepare_RootIsFile(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelWarn)
	require.NoError(t, os.WriteFile(m.Root(), []byte("x"), 0644))

	err := m.Prepare()
	var setupErr *LogSetupError
	require.True(t, errors.As(err, &setupErr))
	assert.Equal(t, m.Root(), setupErr.Path)
}

func TestOpen_WritesFormattedLines(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelInfo)
	require.NoError(t, m.Prepare())

	set, err := m.Open()
	require.NoError(t, err)
	paths := set.Paths()
	assert.Len(t, paths, 4)
	for _, name := range []string{"main", "storage", "ticketing", "agent"} {
		assert.Contains(t, paths, name)
	}

	set.Logger("storage").Debug("hidden")
	set.Logger("storage").Info("started")
	set.Logger("storage").Warn("slow")
	set.Logger("main").Error("boom")
	set.Logger("agent").DPanic("fatal")
	set.Logger("nosuch").Error("dropped")
	require.NoError(t, set.Close())

	storage, err := os.ReadFile(m.SinkPath("storage"))
	require.NoError(t, err)
	assert.Equal(t, "storage - INFO - started\nstorage - WARNING - slow\n", string(storage))

	main, err := os.ReadFile(m.SinkPath("main"))
	require.NoError(t, err)
	assert.Equal(t, "main - ERROR - boom\n", string(main))

	agent, err := os.ReadFile(m.SinkPath("agent"))
	require.NoError(t, err)
	assert.Equal(t, "agent - CRITICAL - fatal\n", string(agent))
}

func TestOpen_AppendsToExistingFile(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelDebug)
	require.NoError(t, m.Prepare())
	require.NoError(t, os.WriteFile(m.SinkPath("main"), []byte("first\n"), 0644))

	set, err := m.Open("main")
	require.NoError(t, err)
	set.Logger("main").Debug("second")
	require.NoError(t, set.Close())

	b, err := os.ReadFile(m.SinkPath("main"))
	require.NoError(t, err)
	assert.Equal(t, "first\nmain - DEBUG - second\n", string(b))
}

func TestOpen_MissingRootFails(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelWarn)

	_, err := m.Open()
	var setupErr *LogSetupError
	require.True(t, errors.As(err, &setupErr))
	assert.Equal(t, "open", setupErr.Op)
}

func TestSet_Paths(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelWarn)
	require.NoError(t, m.Prepare())
	set, err := m.Open()
	require.NoError(t, err)
	defer func() { _ = set.Close() }()

	paths := set.Paths()
	assert.Len(t, paths, 4)
	assert.Equal(t, filepath.Join(m.Root(), "ticketing.log"), paths["ticketing"])
	assert.NotNil(t, set.Sink("agent").File())
}

func TestZapLevel_CriticalFiltersError(t *testing.T) {
	m, _ := testManager(t, launchconfig.LevelCritical)
	require.NoError(t, m.Prepare())
	set, err := m.Open("main")
	require.NoError(t, err)

	set.Logger("main").Error("hidden")
	set.Logger("main").DPanic("shown")
	require.NoError(t, set.Close())

	b, err := os.ReadFile(m.SinkPath("main"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), "\n"))
	assert.Contains(t, string(b), "CRITICAL - shown")
}

func TestListAndPruneArchives(t *testing.T) {
	m, parent := testManager(t, launchconfig.LevelWarn)
	for _, name := range []string{
		"logs_parsec_archived_2026-01-10_08-00-00",
		"logs_parsec_archived_2026-01-18_08-00-00",
		"logs_parsec_archived_2026-01-10_08-00-00-1",
		"logs_parsec_archived_garbage",
		"unrelated_2020-01-01_00-00-00",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(parent, name), 0755))
	}

	archives, err := m.ListArchives()
	require.NoError(t, err)
	require.Len(t, archives, 3)
	assert.Equal(t, filepath.Join(parent, "logs_parsec_archived_2026-01-10_08-00-00"), archives[0].Path)
	assert.Equal(t, filepath.Join(parent, "logs_parsec_archived_2026-01-18_08-00-00"), archives[2].Path)

	pruned, err := m.PruneArchives(72*time.Hour, true)
	require.NoError(t, err)
	assert.Len(t, pruned, 2)
	_, err = os.Stat(pruned[0].Path)
	assert.NoError(t, err, "dry run must not delete")

	pruned, err = m.PruneArchives(72*time.Hour, false)
	require.NoError(t, err)
	assert.Len(t, pruned, 2)
	for _, a := range pruned {
		_, err := os.Stat(a.Path)
		assert.True(t, os.IsNotExist(err))
	}

	_, err = m.PruneArchives(0, true)
	assert.Error(t, err)
}
