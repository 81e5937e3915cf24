package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"advtrack/internal/progress"
)

const Version = 1

type Header struct {
	Version   int       `json:"version"`
	Tick      uint64    `json:"tick"`
	Count     int       `json:"count"`
	WrittenAt time.Time `json:"written_at"`
}

// Write stores every ledger as one JSON line after a header line, zstd
// compressed. The file is replaced atomically.
func Write(path string, tick uint64, ledgers []*progress.Contribution) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, tick, ledgers); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, tick uint64, ledgers []*progress.Contribution) error {
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

	hb, _ := json.Marshal(Header{Version: Version, Tick: tick, Count: len(ledgers), WrittenAt: time.Now().UTC()})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	for _, c := range ledgers {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode %s: %w", c.PlayerID(), err)
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Read loads a snapshot. Broken records are skipped and reported through the
// joined error alongside the records that did decode.
func Read(path string) (Header, []*progress.Contribution, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, nil, err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return h, nil, fmt.Errorf("decompress: %w", err)
	}
	line, rest, _ := bytes.Cut(raw, []byte{'\n'})
	if err := json.Unmarshal(line, &h); err != nil {
		return h, nil, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("unsupported ledger version %d", h.Version)
	}
	ledgers, err := progress.DecodeRecords(rest)
	return h, ledgers, err
}

// Latest returns the newest snapshot path in dir, or "" when there is none.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.ledger.zst"))
	if err != nil || len(matches) == 0 {
		return "", err
	}
	var best string
	var bestMod time.Time
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		if best == "" || st.ModTime().After(bestMod) || (st.ModTime().Equal(bestMod) && m > best) {
			best, bestMod = m, st.ModTime()
		}
	}
	return best, nil
}

// PathFor names the snapshot for a tick inside dir.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d.ledger.zst", tick))
}
