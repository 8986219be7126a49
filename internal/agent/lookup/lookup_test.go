package lookup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/dataset"
)

func cfg() model.DatasetConfig {
	return model.DatasetConfig{IDColumn: "RFI #", LinkColumn: "Link"}
}

func TestCombineWithNopResolver(t *testing.T) {
	l := New(nil, cfg())
	matches := []dataset.Record{
		{"RFI #": "0016", "Link": `N:\RFIs\0016`, "Status": "Closed", "Date Sent": time.Date(2022, 10, 7, 0, 0, 0, 0, time.UTC)},
		{"RFI #": "0017", "Link": `N:\RFIs\0017`, "Status": nil},
	}

	ctxText, sources := l.Combine(context.Background(), matches)

	assert.Contains(t, ctxText, "[1] RFI 0016\n")
	assert.Contains(t, ctxText, "Date Sent: 2022-10-07")
	assert.Contains(t, ctxText, "[2] RFI 0017\n")
	assert.NotContains(t, ctxText, "Status: \n")
	require.Len(t, sources, 2)
	assert.Equal(t, model.Source{Index: 1, Label: "RFI 0016", Ref: `N:\RFIs\0016`}, sources[0])
	assert.Equal(t, 2, sources[1].Index)
}

func TestCombineNoMatches(t *testing.T) {
	text, sources := New(nil, cfg()).Combine(context.Background(), nil)
	assert.Empty(t, text)
	assert.Nil(t, sources)
}

func TestFolderResolverReadsTextFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "0016.1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_response.txt"), []byte("Use grade 50 steel."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_question.md"), []byte("Confirm beam grade."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte("%PDF"), 0o644))

	r := FolderResolver{Root: root, IDColumn: "RFI #", LinkColumn: "Link"}
	doc, err := r.Resolve(context.Background(), dataset.Record{"RFI #": "0016.1", "Link": `N:\2019\RFI's\0016.1\`})
	require.NoError(t, err)
	assert.Equal(t, "Confirm beam grade.\n\nUse grade 50 steel.", doc.Text)
	assert.Equal(t, `N:\2019\RFI's\0016.1\`, doc.Ref)
}

func TestFolderResolverMissingFolder(t *testing.T) {
	r := FolderResolver{Root: t.TempDir(), IDColumn: "RFI #", LinkColumn: "Link"}
	doc, err := r.Resolve(context.Background(), dataset.Record{"RFI #": "0099"})
	require.NoError(t, err)
	assert.Empty(t, doc.Text)
}

func TestFolderResolverLimit(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "0020")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "long.txt"), []byte("abcdefghijklmnopqrstuvwxyz"), 0o644))

	r := FolderResolver{Root: root, IDColumn: "RFI #", LinkColumn: "Link", MaxBytes: 10}
	doc, err := r.Resolve(context.Background(), dataset.Record{"RFI #": "0020"})
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", doc.Text)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, dataset.Record) (Document, error) {
	return Document{}, errors.New("share offline")
}

func TestCombineKeepsFieldsWhenResolverFails(t *testing.T) {
	l := New(failingResolver{}, cfg())
	text, sources := l.Combine(context.Background(), []dataset.Record{{"RFI #": "0016", "Link": "x/0016"}})
	assert.Contains(t, text, "RFI #: 0016")
	require.Len(t, sources, 1)
	assert.Equal(t, "x/0016", sources[0].Ref)
}

func TestLastElement(t *testing.T) {
	for in, want := range map[string]string{
		`N:\RFIs\0016.1`:  "0016.1",
		`N:\RFIs\0016.1\`: "0016.1",
		"docs/0017":       "0017",
		"0018":            "0018",
		"":                "",
	} {
		assert.Equal(t, want, lastElement(in), in)
	}
}
