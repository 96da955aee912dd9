package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-orchestrator/pkg/logger"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	return NewStore(log), t.TempDir()
}

func TestInitializeTaskMemory(t *testing.T) {
	store, taskDir := newTestStore(t)

	require.NoError(t, store.InitializeTaskMemory(taskDir))

	info, err := os.Stat(store.BankDir(taskDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadMissingMemory(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	_, err := store.Load(taskDir, "nope.md")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	content, err := store.LoadWithDefault(taskDir, "nope.md", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", content)
}

func TestOverwriteReplacesWholeFile(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	require.NoError(t, store.Overwrite(taskDir, "note.md", "first version with some length"))
	require.NoError(t, store.Overwrite(taskDir, "note.md", "second"))

	content, err := store.Load(taskDir, "note.md")
	require.NoError(t, err)
	assert.Equal(t, "second", content)
}

func TestLoadJSONCorrupt(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))
	require.NoError(t, store.Overwrite(taskDir, "broken.json", "{not json"))

	var target map[string]interface{}
	err := store.LoadJSON(taskDir, "broken.json", &target)
	require.Error(t, err)
	var corrupt *CorruptError
	assert.ErrorAs(t, err, &corrupt)
}

func TestKeyFindingsAppendAndWindow(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	for _, name := range []string{"alpha", "beta", "gamma", "delta"} {
		finding := KeyFinding{SourceStepNarrative: name, SourceToolName: "WebSearchTool"}
		require.NoError(t, finding.SetInlineData("data for "+name))
		require.NoError(t, store.AddKeyFinding(taskDir, finding))
	}

	latest, err := store.GetLatestKeyFindings(taskDir, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	// Newest two, oldest first within the window.
	assert.Equal(t, "gamma", latest[0].SourceStepNarrative)
	assert.Equal(t, "delta", latest[1].SourceStepNarrative)
	for _, finding := range latest {
		assert.NotEmpty(t, finding.ID)
	}
}

func TestGetLatestOnAbsentFile(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	findings, err := store.GetLatestKeyFindings(taskDir, 5)
	require.NoError(t, err)
	assert.Empty(t, findings)

	records, err := store.GetLatestErrorsEncountered(taskDir, 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestErrorRecordFillsDefaults(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	require.NoError(t, store.AddErrorEncountered(taskDir, ErrorRecord{
		SourceStepNarrative: "fetch page",
		SourceToolName:      "WebFetchTool",
		ErrorMessage:        "connection refused",
	}))

	records, err := store.GetLatestErrorsEncountered(taskDir, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ErrorID)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestSaveUploadedFileSanitizesName(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	relPath, err := store.SaveUploadedFile(taskDir, "../../etc/pass wd!.txt", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(UploadedFilesDir, "pass wd_.txt"), relPath)

	content, err := store.Load(taskDir, relPath)
	require.NoError(t, err)
	assert.Equal(t, "content", content)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "notes.md", SanitizeFileName("/tmp/notes.md"))
	assert.Equal(t, "notes.md", SanitizeFileName("..\\..\\notes.md"))
	assert.Equal(t, "", SanitizeFileName(".."))
	assert.Equal(t, "a_b.txt", SanitizeFileName("a|b.txt"))
}

func TestRawContentReferenceRoundTrip(t *testing.T) {
	var finding KeyFinding
	require.NoError(t, finding.SetReference("raw_content/abc.txt", "preview text"))

	ref, ok := finding.AsReference()
	require.True(t, ok)
	assert.Equal(t, "raw_content/abc.txt", ref.RawContentPath)
	assert.Equal(t, "preview text", finding.DataString())

	var inline KeyFinding
	require.NoError(t, inline.SetInlineData("plain result"))
	_, ok = inline.AsReference()
	assert.False(t, ok)
	assert.Equal(t, "plain result", inline.DataString())
}

func TestChatHistoryOrder(t *testing.T) {
	store, taskDir := newTestStore(t)
	require.NoError(t, store.InitializeTaskMemory(taskDir))

	require.NoError(t, store.AppendChatMessage(taskDir, "user", "hello"))
	require.NoError(t, store.AppendChatMessage(taskDir, "assistant", "hi"))
	require.NoError(t, store.AppendChatMessage(taskDir, "user", "again"))

	messages, err := store.GetLatestChatMessages(taskDir, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[0].Role)
	assert.Equal(t, "again", messages[1].Content)
}
