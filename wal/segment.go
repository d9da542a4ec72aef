package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// SegmentMagic opens every segment file
	SegmentMagic = 0x5342574C // "SBWL" in hex

	// magic(4) version(2) checksum(1) reserved(1) salt(16)
	segmentHeaderSize = 24
	saltSize          = 16
)

// Segment represents a single segment file.
type Segment struct {
	Path     string
	Index    int
	StartSeq uint64
	Size     int64
	Sealed   bool
}

// segmentHeader is the fixed prefix of each segment.
type segmentHeader struct {
	checksum ChecksumType
	salt     [saltSize]byte
}

func (h segmentHeader) marshal() []byte {
	buf := make([]byte, 0, segmentHeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, SegmentMagic)
	buf = binary.LittleEndian.AppendUint16(buf, Version)
	buf = append(buf, byte(h.checksum), 0)
	buf = append(buf, h.salt[:]...)
	return buf
}

func parseSegmentHeader(data []byte) (segmentHeader, error) {
	var h segmentHeader
	if len(data) < segmentHeaderSize {
		return h, fmt.Errorf("segment header truncated: %d bytes", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != SegmentMagic {
		return h, fmt.Errorf("invalid segment magic: %x", magic)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != Version {
		return h, fmt.Errorf("unsupported segment version: %d", v)
	}
	h.checksum = ChecksumType(data[6])
	copy(h.salt[:], data[8:segmentHeaderSize])
	return h, nil
}

// SegmentManager names, discovers and rotates segment files.
type SegmentManager struct {
	baseDir  string
	baseName string
	segments []*Segment
	maxSize  int64
}

// NewSegmentManager creates a manager for the log at walPath and scans for
// segments left by earlier runs.
func NewSegmentManager(walPath string, maxSize int64) (*SegmentManager, error) {
	sm := &SegmentManager{
		baseDir:  filepath.Dir(walPath),
		baseName: strings.TrimSuffix(filepath.Base(walPath), ".wal"),
		maxSize:  maxSize,
	}

	if err := sm.scanSegments(); err != nil {
		return nil, fmt.Errorf("failed to scan segments: %w", err)
	}

	return sm, nil
}

// ShouldRotate checks if the active segment has reached its size limit.
func (sm *SegmentManager) ShouldRotate(currentSize int64) bool {
	return sm.maxSize > 0 && currentSize >= sm.maxSize
}

// Next seals the active segment and registers a new one starting at startSeq.
func (sm *SegmentManager) Next(startSeq uint64) *Segment {
	index := 0
	if n := len(sm.segments); n > 0 {
		sm.segments[n-1].Sealed = true
		index = sm.segments[n-1].Index + 1
	}

	seg := &Segment{
		Path:     sm.pathFor(index),
		Index:    index,
		StartSeq: startSeq,
	}
	sm.segments = append(sm.segments, seg)
	return seg
}

// Active returns the newest segment, or nil.
func (sm *SegmentManager) Active() *Segment {
	if len(sm.segments) == 0 {
		return nil
	}
	return sm.segments[len(sm.segments)-1]
}

// Segments returns all known segments in index order.
func (sm *SegmentManager) Segments() []*Segment {
	return sm.segments
}

// UpdateSegmentSizes refreshes sizes from the filesystem.
func (sm *SegmentManager) UpdateSegmentSizes() {
	for _, seg := range sm.segments {
		if stat, err := os.Stat(seg.Path); err == nil {
			seg.Size = stat.Size()
		}
	}
}

func (sm *SegmentManager) pathFor(index int) string {
	return filepath.Join(sm.baseDir, fmt.Sprintf("%s-%06d.wal", sm.baseName, index))
}

// scanSegments discovers existing segments named <base>-NNNNNN.wal.
func (sm *SegmentManager) scanSegments() error {
	matches, err := filepath.Glob(filepath.Join(sm.baseDir, sm.baseName+"-*.wal"))
	if err != nil {
		return err
	}

	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".wal")
		index, err := strconv.Atoi(strings.TrimPrefix(name, sm.baseName+"-"))
		if err != nil {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		sm.segments = append(sm.segments, &Segment{
			Path:   path,
			Index:  index,
			Size:   stat.Size(),
			Sealed: true,
		})
	}

	sort.Slice(sm.segments, func(i, j int) bool {
		return sm.segments[i].Index < sm.segments[j].Index
	})
	return nil
}
