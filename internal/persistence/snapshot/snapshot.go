// Package snapshot archives finished matches: the seed, the action history
// and the state digest, enough to replay and verify the match later.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	MatchID uuid.UUID `json:"match_id"`
	Actions int       `json:"actions"`
	SavedAt time.Time `json:"saved_at"`
}

type ArchiveV1 struct {
	Header Header `json:"header"`

	Seed    int64    `json:"seed"`
	Digest  string   `json:"digest"`
	History [][]byte `json:"history"`
}

// Capture builds the archive of s. Call it on the loop goroutine.
func Capture(s network.State) (ArchiveV1, error) {
	raws, err := network.EncodeHistory(s)
	if err != nil {
		return ArchiveV1{}, fmt.Errorf("capture history: %w", err)
	}
	digest, err := core.Digest(s)
	if err != nil {
		return ArchiveV1{}, fmt.Errorf("capture digest: %w", err)
	}
	g := s.Game()
	a := ArchiveV1{
		Header: Header{
			Version: Version,
			MatchID: g.MatchID,
			Actions: len(raws),
			SavedAt: time.Now().UTC(),
		},
		Seed:    g.Random.Seed,
		Digest:  digest,
		History: make([][]byte, len(raws)),
	}
	for i, r := range raws {
		a.History[i] = r
	}
	return a, nil
}

// RawHistory returns the history in the form network.ReplayTrace takes.
func (a ArchiveV1) RawHistory() []json.RawMessage {
	out := make([]json.RawMessage, len(a.History))
	for i, b := range a.History {
		out[i] = b
	}
	return out
}

func PathFor(dir string, matchID uuid.UUID) string {
	return filepath.Join(dir, "archive", matchID.String()+".snap.zst")
}

func WriteArchive(path string, a ArchiveV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(a.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&a); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadArchive(path string) (ArchiveV1, error) {
	var a ArchiveV1
	f, err := os.Open(path)
	if err != nil {
		return a, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return a, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line lets tools peek without gob; the body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&a); err != nil {
		return a, fmt.Errorf("gob decode: %w", err)
	}
	if a.Header.Version != Version {
		return a, fmt.Errorf("archive version %d not supported", a.Header.Version)
	}
	return a, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	return h, json.Unmarshal(line, &h)
}
