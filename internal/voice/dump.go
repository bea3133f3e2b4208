package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// Dumper writes captured utterances to disk as WAV files for offline
// inspection. Disabled when Dir is empty.
type Dumper struct {
	Dir string
}

// saveFileAtomic writes data via a tmp file, fsync, and rename so readers
// never observe a partial file.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// wavHeader prepends a RIFF header for 16-bit PCM at the capture format.
func wavHeader(pcm []byte) []byte {
	byteRate := uint32(SampleRate * Channels * 2)
	blockAlign := uint16(Channels * 2)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(Channels))
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// Save writes one utterance as a WAV named by timestamp, speaker, and
// correlation ID. Errors are logged, not returned; dumping is best-effort.
func (d *Dumper) Save(u Utterance) {
	if d == nil || d.Dir == "" {
		return
	}
	ts := u.CapturedAt.UTC().Format("20060102T150405.000Z")
	name := fmt.Sprintf("%s_%s_%s.wav", ts, u.SpeakerID, u.CorrelationID)
	path := filepath.Join(d.Dir, name)
	if err := saveFileAtomic(path, wavHeader(u.PCM), 0o644); err != nil {
		logging.Warnw("dump: failed to save utterance", "path", path, "err", err)
		return
	}
	logging.Debugw("dump: saved utterance", "path", path, "bytes", len(u.PCM))
}

// StartCleaner prunes dumped WAVs older than retention on each interval
// tick until ctx is cancelled. Caller must wg.Add(1) first.
func (d *Dumper) StartCleaner(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration) {
	go func() {
		defer wg.Done()
		if d == nil || d.Dir == "" {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.cleanOnce(retention)
			}
		}
	}()
}

func (d *Dumper) cleanOnce(retention time.Duration) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		logging.Debugw("dump: cleanup readDir failed", "err", err)
		return
	}
	type fileInfo struct {
		path string
		mod  time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(d.Dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, f := range files {
		if f.mod.Before(cutoff) {
			_ = os.Remove(f.path)
			removed++
		}
	}
	if removed > 0 {
		logging.Debugw("dump: cleanup removed files", "count", removed)
	}
}
