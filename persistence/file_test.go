package persistence

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveToFile(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "snap.bin")

		err := SaveToFile(path, func(w io.Writer) error {
			_, err := w.Write([]byte("payload"))
			return err
		})
		require.NoError(t, err)

		var got []byte
		err = LoadFromFile(path, func(r io.Reader) error {
			b, err := io.ReadAll(r)
			got = b
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), got)
	})

	t.Run("FailedWriteKeepsPrevious", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "snap.bin")

		require.NoError(t, SaveToFile(path, func(w io.Writer) error {
			_, err := w.Write([]byte("v1"))
			return err
		}))

		err := SaveToFile(path, func(w io.Writer) error {
			return io.ErrUnexpectedEOF
		})
		require.Error(t, err)

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), b)
	})

	t.Run("NoTempLeftovers", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "snap.bin")

		_ = SaveToFile(path, func(w io.Writer) error { return io.ErrClosedPipe })
		require.NoError(t, SaveToFile(path, func(w io.Writer) error { return nil }))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "snap.bin", entries[0].Name())
	})
}

func TestCompression(t *testing.T) {
	payload := []byte("abcabcabcabcabcabcabcabcabc")

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "blob")

			err := SaveToFile(path, func(w io.Writer) error {
				cw, err := NewCompressingWriter(w, c)
				if err != nil {
					return err
				}
				if _, err := cw.Write(payload); err != nil {
					return err
				}
				return cw.Close()
			})
			require.NoError(t, err)

			var got []byte
			err = LoadFromFile(path, func(r io.Reader) error {
				cr, err := NewDecompressingReader(r, c)
				if err != nil {
					return err
				}
				defer cr.Close()
				b, err := io.ReadAll(cr)
				got = b
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}

	t.Run("UnknownID", func(t *testing.T) {
		_, err := NewCompressingWriter(io.Discard, Compression(99))
		assert.Error(t, err)
		assert.False(t, Compression(99).Valid())
	})
}
