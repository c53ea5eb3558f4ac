package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Seq   int    `json:"seq"`
	Value string `json:"value"`
}

func readRecords(t *testing.T, w *WAL) []record {
	t.Helper()
	var out []record
	require.NoError(t, w.ReadAll(func(raw []byte) error {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}))
	return out
}

func TestWriteThenReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account-1.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(record{Seq: 1, Value: "a"}))
	require.NoError(t, w.Write(record{Seq: 2, Value: "b"}))
	require.NoError(t, w.Close())

	reopened, err := NewWAL(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []record{{1, "a"}, {2, "b"}}, readRecords(t, reopened))

	// 讀完之後可以繼續追加
	require.NoError(t, reopened.Write(record{Seq: 3, Value: "c"}))
	assert.Len(t, readRecords(t, reopened), 3)
}

func TestReadAllDropsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account-1.wal")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1,\"value\":\"a\"}\n{\"seq\":2,\"va"), FileModeReadOnly))

	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []record{{1, "a"}}, readRecords(t, w))

	require.NoError(t, w.Write(record{Seq: 2, Value: "b"}))
	assert.Equal(t, []record{{1, "a"}, {2, "b"}}, readRecords(t, w))
}

func TestWriteAfterCloseFails(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "closed.wal"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Error(t, w.Write(record{Seq: 1}))
}

func TestFailedRollbackRefusesFurtherWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(record{Seq: 1, Value: "a"}))

	// 唯讀的 fd 寫入與截斷都會失敗
	writable := w.file
	readOnly, err := os.Open(path)
	require.NoError(t, err)
	w.file = readOnly

	err = w.Write(record{Seq: 2, Value: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBroken)

	// 換回可寫的 fd 也不再接受寫入
	w.file = writable
	assert.ErrorIs(t, w.Write(record{Seq: 3, Value: "c"}), ErrBroken)
	require.NoError(t, readOnly.Close())

	assert.Equal(t, []record{{1, "a"}}, readRecords(t, w))
	require.NoError(t, w.Close())
}
