package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeLenStr(t *testing.T, buf []byte, s string) []byte {
	t.Helper()
	require.Less(t, len(s), 256)
	buf = append(buf, byte(len(s)))
	buf = append(buf, s...)
	return buf
}

func TestLoadSnapshotMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Dir: dir, DBFilename: "dump.rdb"}, zap.NewNop())
	require.NoError(t, s.LoadSnapshot())
}

func TestLoadSnapshotStringsAndExpiry(t *testing.T) {
	dir := t.TempDir()

	var buf []byte
	buf = append(buf, "REDIS0011"...)
	buf = append(buf, opAux)
	buf = writeLenStr(t, buf, "redis-ver")
	buf = writeLenStr(t, buf, "7.0")
	buf = append(buf, opSelectDB, 0)
	buf = append(buf, valueTypeString)
	buf = writeLenStr(t, buf, "nokey")
	buf = writeLenStr(t, buf, "noval")
	buf = append(buf, opExpireTimeMS)
	farFuture := uint64(4102444800000) // year 2100, always in the future
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(farFuture>>(8*i)))
	}
	buf = append(buf, valueTypeString)
	buf = writeLenStr(t, buf, "withttl")
	buf = writeLenStr(t, buf, "v")
	buf = append(buf, opEOF)

	path := filepath.Join(dir, "dump.rdb")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	s := New(Config{Dir: dir, DBFilename: "dump.rdb"}, zap.NewNop())
	require.NoError(t, s.LoadSnapshot())

	v, ok := s.strings.Get([]byte("nokey"))
	require.True(t, ok)
	require.Equal(t, "noval", string(v))

	v, ok = s.strings.Get([]byte("withttl"))
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}
