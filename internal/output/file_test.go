package output

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.March, 7, 23, 15, 0, 0, time.UTC)
	assert.Equal(t, "taifa-leo-07-03-2024.txt", FileName("taifa-leo", at, ""))
	assert.Equal(t, "taifa-leo-2024-03-07.txt", FileName(" taifa-leo ", at, "2006-01-02"))
}

func TestCreateTruncatesExisting(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "out")
	f, path, err := Create(dir, "site-01-01-2024.txt")
	require.NoError(t, err)
	_, err = f.WriteString("first run, much longer content")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, samePath, err := Create(dir, "site-01-01-2024.txt")
	require.NoError(t, err)
	assert.Equal(t, path, samePath)
	_, err = f.WriteString("second")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestCreateRequiresName(t *testing.T) {
	t.Parallel()

	_, _, err := Create(t.TempDir(), " ")
	assert.Error(t, err)
}
