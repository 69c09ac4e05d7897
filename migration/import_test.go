package migration

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

func exportDemo(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := Export(context.Background(), ExportConfig{Source: seededStore(t), Output: &buf})
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImport_IntoEmptyStore(t *testing.T) {
	dest := kiddoalert.NewMemoryStore()
	ctx := context.Background()

	res, err := Import(ctx, ImportConfig{
		Input:             bytes.NewReader(exportDemo(t)),
		Dest:              dest,
		VerifyAfterImport: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.True(t, res.Verified)
	assert.Equal(t, Counts{Children: 2, Alerts: 2, History: 4}, res.Counts)

	snap, err := kiddoalert.LoadSnapshot(ctx, dest)
	require.NoError(t, err)
	assert.Len(t, snap.Children, 2)
	assert.Equal(t, kiddoalert.RoleGuardian, snap.Role)
}

func TestImport_RequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	dest := kiddoalert.NewMemoryStore()
	require.NoError(t, dest.Save(ctx, kiddoalert.KeyChildren, []kiddoalert.Child{{ID: "local", Name: "Leo"}}))
	archive := exportDemo(t)

	empty, err := ValidateImport(ctx, dest)
	require.NoError(t, err)
	assert.False(t, empty)

	_, err = Import(ctx, ImportConfig{Input: bytes.NewReader(archive), Dest: dest})
	assert.ErrorIs(t, err, ErrImportNotConfirmed)

	var kept []kiddoalert.Child
	require.NoError(t, dest.Load(ctx, kiddoalert.KeyChildren, &kept))
	assert.Equal(t, "Leo", kept[0].Name)

	res, err := Import(ctx, ImportConfig{Input: bytes.NewReader(archive), Dest: dest, Confirmed: true})
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	snap, err := kiddoalert.LoadSnapshot(ctx, dest)
	require.NoError(t, err)
	require.Len(t, snap.Children, 2)
	assert.Equal(t, "João", snap.Children[0].Name)
}

func TestImport_ReplacesStaleKeys(t *testing.T) {
	ctx := context.Background()
	dest := kiddoalert.NewMemoryStore()
	require.NoError(t, dest.Save(ctx, "legacy_key", 1))

	_, err := Import(ctx, ImportConfig{Input: bytes.NewReader(exportDemo(t)), Dest: dest, Confirmed: true})
	require.NoError(t, err)
	assert.False(t, dest.Has("legacy_key"))
}

func TestImport_InvalidInput(t *testing.T) {
	_, err := Import(context.Background(), ImportConfig{
		Input: bytes.NewReader([]byte("plain text")),
		Dest:  kiddoalert.NewMemoryStore(),
	})
	assert.ErrorIs(t, err, ErrInvalidArchive)

	_, err = Import(context.Background(), ImportConfig{Dest: kiddoalert.NewMemoryStore()})
	assert.Error(t, err)
	_, err = Import(context.Background(), ImportConfig{Input: bytes.NewReader(nil)})
	assert.Error(t, err)
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src := seededStore(t)
	dest := kiddoalert.NewMemoryStore()

	res, err := Copy(ctx, CopyConfig{Source: src, Dest: dest, VerifyAfterImport: true})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, 2, res.Counts.Alerts)

	_, err = Copy(ctx, CopyConfig{Source: src, Dest: dest})
	assert.ErrorIs(t, err, ErrImportNotConfirmed)

	// Source stays intact.
	snap, err := kiddoalert.LoadSnapshot(ctx, src)
	require.NoError(t, err)
	assert.Len(t, snap.History, 4)
}

func TestImportWarning(t *testing.T) {
	msg := ImportWarning("/tmp/store.json", Counts{Children: 2, Alerts: 1, History: 9})
	assert.Contains(t, msg, "/tmp/store.json")
	assert.Contains(t, msg, "2 children, 1 alerts, 9 history events")
}
