package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := NewManager(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestUpsertSectionSparseMerge(t *testing.T) {
	store := newTestManager(t).SectionStorage()
	code := "EVID"

	// Discovery seeds the URL only
	require.NoError(t, store.UpsertSection(code, "351", models.SectionUpdate{
		URL: models.StrPtr("https://example.test/sec?sectionNum=351"),
		Seq: models.IntPtr(0),
	}))

	// Extraction fills in content
	require.NoError(t, store.UpsertSection(code, "351", models.SectionUpdate{
		Content:            models.StrPtr("All relevant evidence is admissible."),
		LegislativeHistory: models.StrPtr("(Enacted by Stats. 1965, Ch. 299.)"),
		IsCurrent:          models.BoolPtr(true),
	}))

	sec, err := store.GetSection(code, "351")
	require.NoError(t, err)
	created := sec.CreatedAt

	// A discovery re-run writes the URL again; content must survive
	require.NoError(t, store.UpsertSection(code, "351", models.SectionUpdate{
		URL: models.StrPtr("https://example.test/sec?sectionNum=351"),
	}))

	sec, err = store.GetSection(code, "351")
	require.NoError(t, err)
	assert.Equal(t, "All relevant evidence is admissible.", sec.Content)
	assert.Equal(t, "(Enacted by Stats. 1965, Ch. 299.)", sec.LegislativeHistory)
	assert.True(t, sec.IsCurrent)
	assert.True(t, sec.HasContent())
	assert.Equal(t, len(sec.Content), sec.ContentLength)
	assert.Equal(t, created, sec.CreatedAt, "CreatedAt is set only on insert")
}

func TestUpsertSectionVersionsReplaceSemantics(t *testing.T) {
	store := newTestManager(t).SectionStorage()
	code := "EVID"

	require.NoError(t, store.UpsertSection(code, "3044", models.SectionUpdate{
		IsMultiVersion: models.BoolPtr(true),
		Versions: []models.Version{
			{Content: "old text", Status: models.VersionStatusHistorical},
			{Content: "new text", Status: models.VersionStatusCurrent},
		},
	}))

	// A nil Versions slice keeps the persisted versions
	require.NoError(t, store.UpsertSection(code, "3044", models.SectionUpdate{
		URL: models.StrPtr("https://example.test/sec?sectionNum=3044"),
	}))

	sec, err := store.GetSection(code, "3044")
	require.NoError(t, err)
	require.Len(t, sec.Versions, 2)
	assert.True(t, sec.IsComplete())

	// A non-nil slice replaces wholesale
	require.NoError(t, store.UpsertSection(code, "3044", models.SectionUpdate{
		Versions: []models.Version{{Content: "only", Status: models.VersionStatusCurrent}},
	}))
	sec, err = store.GetSection(code, "3044")
	require.NoError(t, err)
	require.Len(t, sec.Versions, 1)
}

func TestListSectionsManifestOrder(t *testing.T) {
	store := newTestManager(t).SectionStorage()
	code := "EVID"

	// Insert out of lexicographic order; Seq fixes the listing order
	require.NoError(t, store.BulkUpsertSections(code, []models.SectionUpsert{
		{SectionID: "100", Update: models.SectionUpdate{Seq: models.IntPtr(2)}},
		{SectionID: "17404.1", Update: models.SectionUpdate{Seq: models.IntPtr(0)}},
		{SectionID: "9", Update: models.SectionUpdate{Seq: models.IntPtr(1)}},
	}))

	sections, err := store.ListSections(code)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, "17404.1", sections[0].SectionID)
	assert.Equal(t, "9", sections[1].SectionID)
	assert.Equal(t, "100", sections[2].SectionID)
}

func TestListPendingSections(t *testing.T) {
	store := newTestManager(t).SectionStorage()
	code := "EVID"

	require.NoError(t, store.BulkUpsertSections(code, []models.SectionUpsert{
		{SectionID: "1", Update: models.SectionUpdate{Seq: models.IntPtr(0)}},
		{SectionID: "2", Update: models.SectionUpdate{Seq: models.IntPtr(1), Content: models.StrPtr("done")}},
		{SectionID: "3", Update: models.SectionUpdate{Seq: models.IntPtr(2), IsMultiVersion: models.BoolPtr(true)}},
	}))

	pending, err := store.ListPendingSections(code)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "1", pending[0].SectionID)

	flagged, err := store.ListMultiVersionSections(code)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "3", flagged[0].SectionID)

	total, err := store.CountSections(code)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	withContent, err := store.CountHasContent(code)
	require.NoError(t, err)
	assert.Equal(t, 1, withContent)
}

func TestDeleteSectionsScopedToCode(t *testing.T) {
	store := newTestManager(t).SectionStorage()

	require.NoError(t, store.UpsertSection("EVID", "1", models.SectionUpdate{}))
	require.NoError(t, store.UpsertSection("PEN", "1", models.SectionUpdate{}))

	require.NoError(t, store.DeleteSections("EVID"))

	count, err := store.CountSections("EVID")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = store.CountSections("PEN")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
