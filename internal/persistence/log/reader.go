package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Files lists the log files with prefix under dir, oldest first. Names embed
// the UTC hour, so lexical order is time order.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadJSONL calls fn with every line of a compressed JSONL file.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
	}
	return sc.Err()
}

// ReadSyncRecords decodes every sync record under dir in write order.
func ReadSyncRecords(dir string, fn func(SyncRecord) error) error {
	files, err := Files(dir, "sync")
	if err != nil {
		return err
	}
	for _, p := range files {
		err := ReadJSONL(p, func(line []byte) error {
			var r SyncRecord
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			return fn(r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SyncHistory concatenates the flushed actions of one match.
func SyncHistory(dir string, matchID uuid.UUID) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := ReadSyncRecords(dir, func(r SyncRecord) error {
		if r.MatchID == matchID {
			out = append(out, r.Actions...)
		}
		return nil
	})
	return out, err
}

// ReadDivergences decodes every divergence record under dir.
func ReadDivergences(dir string) ([]DivergenceRecord, error) {
	files, err := Files(dir, "divergence")
	if err != nil {
		return nil, err
	}
	var out []DivergenceRecord
	for _, p := range files {
		err := ReadJSONL(p, func(line []byte) error {
			var r DivergenceRecord
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
