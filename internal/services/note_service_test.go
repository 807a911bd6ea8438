// internal/services/note_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/models"
)

func TestRenderDailyFormat(t *testing.T) {
	img := "data/media/2025-01-02/x.png"
	entries := []models.Entry{
		{
			CreatedAt:       "09:30",
			SourceImagePath: &img,
			OriginalText:    "Hello\nWorld",
			TranslatedText:  "你好",
			Tags:            []string{"a", "b"},
		},
		{
			CreatedAt:      "10:00",
			OriginalText:   "Bye",
			TranslatedText: "再见",
			Remarks:        "告别",
			Tokens:         []string{"bye"},
		},
	}

	want := "# 2025-01-02\n" +
		"\n" +
		"- 09:30  来源: data/media/2025-01-02/x.png\n" +
		"\n" +
		"  原文：\n" +
		"  Hello\n" +
		"  World\n" +
		"\n" +
		"  译文：\n" +
		"  你好\n" +
		"\n" +
		"  标签： a, b\n" +
		"\n" +
		"- 10:00\n" +
		"\n" +
		"  原文：\n" +
		"  Bye\n" +
		"\n" +
		"  译文：\n" +
		"  再见\n" +
		"\n" +
		"  备注：\n" +
		"  告别\n" +
		"\n" +
		"  词汇： bye\n"

	assert.Equal(t, want, RenderDaily("2025-01-02", entries))
	assert.Equal(t, "# 2025-01-02\n", RenderDaily("2025-01-02", nil))
}

func TestWriteDailyRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.notes.WriteDaily("2025/01/02", "x")
	assert.True(t, apperrors.IsValidationError(err))

	path, err := env.notes.WriteDaily("2025-01-02", "# 2025-01-02\n")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = env.notes.Load("2025-01-03")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestSortHelpers(t *testing.T) {
	entries := []models.Entry{
		{ID: 3, Date: "2025-01-01", CreatedAt: "10:00"},
		{ID: 1, Date: "2025-01-02", CreatedAt: "08:00"},
		{ID: 2, Date: "2025-01-01", CreatedAt: "10:00"},
	}

	SortByTime(entries)
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].ID, entries[1].ID, entries[2].ID})

	SortNewestFirst(entries)
	assert.Equal(t, 1, entries[0].ID)

	groups := GroupByDate(entries)
	require.Len(t, groups["2025-01-01"], 2)
	assert.Equal(t, 2, groups["2025-01-01"][0].ID)
}

func TestRebuildAllRemovesStaleNotes(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, models.EntryInput{Date: "2025-01-02", OriginalText: "kept"})

	_, err := env.notes.WriteDaily("2024-12-31", "# 2024-12-31\n")
	require.NoError(t, err)
	require.NoError(t, env.storage.SaveTextFile(notesDir, "README.md", []byte("x")))

	n, err := env.notes.RebuildAll(env.entries.All())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	files, err := env.storage.ListFiles(notesDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-02.md", "README.md"}, files)

	md, err := env.notes.Load("2025-01-02")
	require.NoError(t, err)
	assert.Contains(t, md, "kept")
}
