// Package replay persists per-match artefact bundles: a snappy-compressed
// JSONL event log and a zstd-compressed binary frame stream, described by a
// small manifest. Bundles are self-contained directories so retention and
// tooling can move them as a unit.
package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var matchNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// flushInterval batches frame writes so the zstd stream sees large blocks.
const flushInterval = 200 * time.Millisecond

const (
	eventsFileName   = "events.jsonl.sz"
	framesFileName   = "frames.bin.zst"
	manifestFileName = "manifest.json"
)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	MatchID    string `json:"match_id"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
	FramesPath string `json:"frames_path"`
}

type frameBlob struct {
	Frame      uint64
	CapturedAt time.Time
	Payload    []byte
}

// Recorder streams one match's artefacts to disk.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	lastFlush   time.Time
	closed      bool
}

// NewRecorder prepares the bundle directory and opens the compressed sinks.
func NewRecorder(root, matchID string, clock func() time.Time) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	//1.- Sanitise the match id so it is safe as a directory component.
	cleaned := matchNameCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFileName))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesFileName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:    1,
		MatchID:    matchID,
		CreatedAt:  created.Format(time.RFC3339Nano),
		EventsPath: eventsFileName,
		FramesPath: framesFileName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFileName), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	recorder := &Recorder{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}
	return recorder, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// RecordEvent appends one JSON line to the compressed event log.
func (r *Recorder) RecordEvent(frame uint64, kind string, payload []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	captured := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	//1.- Base64 the payload so arbitrary bytes survive the JSONL framing.
	record := struct {
		Frame      uint64 `json:"frame"`
		CapturedAt string `json:"captured_at"`
		Kind       string `json:"kind"`
		PayloadB64 string `json:"payload_b64"`
	}{
		Frame:      frame,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Kind:       kind,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := r.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := r.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return r.eventStream.Flush()
}

// RecordFrame stages a binary frame; batches flush on the write cadence.
func (r *Recorder) RecordFrame(frame uint64, payload []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	captured := r.now().UTC()
	clone := append([]byte(nil), payload...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	r.pending = append(r.pending, frameBlob{Frame: frame, CapturedAt: captured, Payload: clone})
	if r.lastFlush.IsZero() {
		r.lastFlush = captured
		return nil
	}
	if captured.Sub(r.lastFlush) >= flushInterval {
		if err := r.flushLocked(); err != nil {
			return err
		}
		r.lastFlush = captured
	}
	return nil
}

// Flush forces pending frames to disk regardless of cadence.
func (r *Recorder) Flush() error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	r.lastFlush = r.now().UTC()
	return nil
}

// Close flushes every buffer and releases the file handles. It is safe to call
// once per recorder; later writes fail.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	//1.- Attempt every flush and close, surfacing the first failure.
	var firstErr error
	if err := r.flushLocked(); err != nil {
		firstErr = err
	}
	if err := r.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes staged frames length-prefixed so readers can step the
// stream without decoding payloads. Callers must hold the mutex.
func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	for _, frame := range r.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], frame.Frame)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(frame.Payload)))
		if _, err := r.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := r.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	return nil
}
