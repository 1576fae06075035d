package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	key := NewKey(`C:\Users\ops\Plant Data (v2).csv`)
	parts := strings.Split(key, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, "uploads", parts[0])
	assert.Len(t, parts[1], 36)
	assert.Equal(t, "Plant_Data__v2_.csv", parts[2])
	assert.NotEqual(t, key, NewKey(`C:\Users\ops\Plant Data (v2).csv`))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"data.csv":          "data.csv",
		"../../etc/passwd":  "passwd",
		"..":                "upload",
		"":                  "upload",
		".hidden.csv":       "hidden.csv",
		"équipement.csv":    "_quipement.csv",
		"dir/sub/file.xlsx": "file.xlsx",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "  ", "/abs", "a/../../b", ".."} {
		_, err := cleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}
	k, err := cleanKey("uploads/x//y.csv")
	require.NoError(t, err)
	assert.Equal(t, "uploads/x/y.csv", k)
}

// storeContract exercises the behavior every driver shares.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := NewKey("sample.csv")
	payload := []byte("flowrate,pressure,temperature,type\n1,2,3,A\n")

	info, err := s.Put(ctx, key, bytes.NewReader(payload), PutOptions{ContentType: "text/csv", Metadata: map[string]string{"record": "1"}})
	require.NoError(t, err)
	assert.Equal(t, key, info.Key)
	assert.Equal(t, int64(len(payload)), info.Size)

	got, rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, body)
	assert.Equal(t, "text/csv", got.ContentType)
	assert.Equal(t, int64(len(payload)), got.Size)

	_, _, err = s.Get(ctx, "uploads/missing/none.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	existed, err := s.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed)
	_, _, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, "../escape", bytes.NewReader(nil), PutOptions{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, DriverMemory, m.Driver())
	storeContract(t, m)
	assert.Equal(t, 0, m.Len())

	ctx := context.Background()
	_, err := m.Put(ctx, "k", strings.NewReader("a"), PutOptions{})
	require.NoError(t, err)
	_, err = m.Put(ctx, "k", strings.NewReader("b"), PutOptions{})
	assert.ErrorIs(t, err, ErrExists)
}
