package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetEntry struct {
	File string `json:"file"`
	ID   string `json:"id"`
}

type widgetFixture struct {
	dir   string
	coll  *Collection[widget]
	index *IndexFile[widgetEntry]
	scans int
}

func newWidgetFixture(t *testing.T) *widgetFixture {
	t.Helper()
	f := &widgetFixture{dir: t.TempDir(), coll: newWidgets(nil)}
	f.index = NewIndexFile(IndexConfig[widgetEntry]{
		Path:    filepath.Join(f.dir, "widget-index.json"),
		Version: 1,
		KeyOf:   func(e widgetEntry) string { return e.File },
		Scan: func(ctx context.Context) ([]widgetEntry, []Warning, error) {
			f.scans++
			files, warnings, err := ScanDir(ctx, f.coll, filepath.Join(f.dir, "widgets"), "-widgets.json")
			if err != nil {
				return nil, nil, err
			}
			var entries []widgetEntry
			for _, fr := range files {
				for _, w := range fr.Loaded.Records {
					entries = append(entries, widgetEntry{File: fr.File, ID: w.ID})
				}
			}
			return entries, warnings, nil
		},
		Check: func(e widgetEntry) error {
			if e.ID == "" {
				return errors.New("missing id")
			}
			return nil
		},
	})
	return f
}

func (f *widgetFixture) write(t *testing.T, name string, ws ...widget) {
	t.Helper()
	saveWidgets(t, f.coll, filepath.Join(f.dir, "widgets", name), ws)
}

func TestIndex_LoadRebuildsWhenMissing(t *testing.T) {
	f := newWidgetFixture(t)
	f.write(t, "a-widgets.json", widget{ID: "a1"}, widget{ID: "a2"})
	f.write(t, "b-widgets.json", widget{ID: "b1"})

	idx, err := f.index.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx.Entries, 3)
	assert.Equal(t, 1, f.scans)

	// 第二次直接读文件
	_, err = f.index.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.scans)
}

func TestIndex_RebuildCountsOnlyValidRecords(t *testing.T) {
	f := newWidgetFixture(t)
	f.write(t, "a-widgets.json", widget{ID: "a1"})
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "widgets", "bad-widgets.json"), []byte("nope"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "widgets", "mixed-widgets.json"),
		[]byte(`{"widgets":[{"id":"m1"},{"size":-4}]}`), 0644))

	idx, err := f.index.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx.Entries, 2)
	require.Len(t, idx.Warnings, 2)
	assert.Equal(t, "bad-widgets.json", idx.Warnings[0].File)
	assert.Equal(t, "mixed-widgets.json", idx.Warnings[1].File)
}

func TestIndex_CorruptIndexIsRebuilt(t *testing.T) {
	f := newWidgetFixture(t)
	f.write(t, "a-widgets.json", widget{ID: "a1"})

	for _, body := range []string{"garbage", `{"version":99,"entries":[]}`, `{"version":1,"entries":[{"file":"x"}]}`, `{"version":1}`} {
		require.NoError(t, os.WriteFile(f.index.Path(), []byte(body), 0644))
		idx, err := f.index.Load(context.Background())
		require.NoError(t, err, body)
		assert.Len(t, idx.Entries, 1, body)
	}
	assert.Equal(t, 4, f.scans)
}

func TestIndex_UpdateReplacesOnlyOneKey(t *testing.T) {
	f := newWidgetFixture(t)
	f.write(t, "a-widgets.json", widget{ID: "a1"})
	f.write(t, "b-widgets.json", widget{ID: "b1"})
	_, err := f.index.Rebuild(context.Background())
	require.NoError(t, err)

	idx, err := f.index.Update(context.Background(), "a-widgets.json",
		[]widgetEntry{{File: "a-widgets.json", ID: "a1"}, {File: "a-widgets.json", ID: "a2"}},
		[]Warning{{File: "a-widgets.json", Message: "something"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.scans)
	assert.Equal(t, []widgetEntry{
		{File: "a-widgets.json", ID: "a1"},
		{File: "a-widgets.json", ID: "a2"},
		{File: "b-widgets.json", ID: "b1"},
	}, idx.Entries)
	assert.Len(t, idx.Warnings, 1)

	// 新一轮更新清除该文件的旧告警
	idx, err = f.index.Update(context.Background(), "a-widgets.json", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, idx.Warnings)
	assert.Equal(t, []widgetEntry{{File: "b-widgets.json", ID: "b1"}}, idx.Entries)
}

func TestIndex_UpdateFallsBackToRebuild(t *testing.T) {
	f := newWidgetFixture(t)
	f.write(t, "a-widgets.json", widget{ID: "a1"})
	f.write(t, "b-widgets.json", widget{ID: "b1"})

	idx, err := f.index.Update(context.Background(), "a-widgets.json", []widgetEntry{{File: "a-widgets.json", ID: "a1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.scans)
	assert.Len(t, idx.Entries, 2)
}

func TestScanDir_MissingDirectory(t *testing.T) {
	files, warnings, err := ScanDir(context.Background(), newWidgets(nil), filepath.Join(t.TempDir(), "none"), ".json")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, warnings)
}
