package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ErrNoManifest reports a directory that is not a replay bundle.
var ErrNoManifest = errors.New("replay bundle manifest missing")

// Event is one decoded entry from the event log.
type Event struct {
	Frame      uint64
	CapturedAt time.Time
	Kind       string
	Payload    []byte
}

// Frame is one decoded entry from the frame stream.
type Frame struct {
	Frame      uint64
	CapturedAt time.Time
	Payload    []byte
}

// LoadManifest reads and validates a bundle's manifest.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, ErrNoManifest
		}
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

// LoadEvents decodes the full event log of a bundle.
func LoadEvents(dir string) ([]Event, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(snappy.NewReader(file))
	for scanner.Scan() {
		var record struct {
			Frame      uint64 `json:"frame"`
			CapturedAt string `json:"captured_at"`
			Kind       string `json:"kind"`
			PayloadB64 string `json:"payload_b64"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("decode event line: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("decode event timestamp: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		events = append(events, Event{Frame: record.Frame, CapturedAt: captured, Kind: record.Kind, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// LoadFrames decodes the full frame stream of a bundle.
func LoadFrames(dir string) ([]Frame, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var frames []Frame
	header := make([]byte, 8+8+4)
	for {
		//1.- Each record is a fixed header followed by the payload bytes.
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, err
		}
		payload := make([]byte, binary.LittleEndian.Uint32(header[16:20]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, err
		}
		frames = append(frames, Frame{
			Frame:      binary.LittleEndian.Uint64(header[0:8]),
			CapturedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))),
			Payload:    payload,
		})
	}
}

// List returns the manifests of every bundle under root, newest first.
func List(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := LoadManifest(filepath.Join(root, entry.Name()))
		if errors.Is(err, ErrNoManifest) {
			continue
		}
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt > manifests[j].CreatedAt
	})
	return manifests, nil
}
