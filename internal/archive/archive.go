// Package archive reads and writes zstd-compressed game exports.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"marketsim/internal/game"
)

// Version is the archive format written by Write.
const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported archive version")

// Write encodes a as JSON through a zstd stream.
func Write(w io.Writer, a game.Archive) error {
	if a.Version == 0 {
		a.Version = Version
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(a); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(r io.Reader) (game.Archive, error) {
	var a game.Archive
	dec, err := zstd.NewReader(r)
	if err != nil {
		return a, err
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024)).Decode(&a); err != nil {
		return a, fmt.Errorf("json decode: %w", err)
	}
	if a.Version != Version {
		return a, fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.Version)
	}
	return a, nil
}

// WriteFile writes atomically via a temp file in the target directory.
func WriteFile(path string, a game.Archive) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, a); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ReadFile(path string) (game.Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return game.Archive{}, err
	}
	defer f.Close()
	return Read(f)
}
