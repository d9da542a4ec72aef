// Package wal implements a segmented append-only log of topic messages.
//
// A log is a sequence of segment files. Each segment starts with a fixed
// header naming the checksum algorithm and key-derivation salt, followed by
// framed records. Channel records bind a topic name to a small integer id;
// message records carry an opaque payload for a channel.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// MagicHeader identifies the start of a record
	MagicHeader = 0x53424C47 // "SBLG" in hex
	// MagicFooter identifies the end of a record
	MagicFooter = 0x454E4452 // "ENDR" in hex
	// Version is the record format version
	Version = 1

	// FlagChannel marks a record that defines a channel. Its payload is the topic name.
	FlagChannel uint16 = 1 << 0
	// FlagSnappy marks a snappy-compressed payload.
	FlagSnappy uint16 = 1 << 1
	// FlagZstd marks a zstd-compressed payload.
	FlagZstd uint16 = 1 << 2
	// FlagEncrypted marks a sealed payload.
	FlagEncrypted uint16 = 1 << 3

	// MaxPayloadSize bounds a single record payload.
	MaxPayloadSize = 256 << 20

	// header: magic(4) version(2) flags(2) length(4) timestamp(8) crc(4)
	headerSize = 24
	// payload prefix: sequence(8) channel(2)
	prefixSize = 10
	// footer: checksum(8) magic(4)
	footerSize = 12

	recordOverhead = headerSize + prefixSize + footerSize
)

// ErrTruncated is returned when a buffer ends inside a record.
var ErrTruncated = errors.New("truncated record")

// Record is a single log entry.
type Record struct {
	Flags     uint16
	Timestamp int64
	Sequence  uint64
	Channel   uint16
	Data      []byte
}

// IsChannel reports whether the record defines a channel.
func (r *Record) IsChannel() bool {
	return r.Flags&FlagChannel != 0
}

// EncodedSize is the number of bytes AppendTo adds.
func (r *Record) EncodedSize() int {
	return recordOverhead + len(r.Data)
}

// AppendTo frames the record onto dst.
func (r *Record) AppendTo(dst []byte, sum Checksum) ([]byte, error) {
	if len(r.Data) > MaxPayloadSize {
		return dst, fmt.Errorf("record payload too large: %d bytes", len(r.Data))
	}

	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, MagicHeader)
	dst = binary.LittleEndian.AppendUint16(dst, Version)
	dst = binary.LittleEndian.AppendUint16(dst, r.Flags)
	// #nosec G115 - payload length bounded by MaxPayloadSize
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Data)))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Timestamp))
	dst = binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:start+headerSize-4]))

	dst = binary.LittleEndian.AppendUint64(dst, r.Sequence)
	dst = binary.LittleEndian.AppendUint16(dst, r.Channel)
	dst = append(dst, r.Data...)

	dst = binary.LittleEndian.AppendUint64(dst, sum.Calculate(dst[start:]))
	dst = binary.LittleEndian.AppendUint32(dst, MagicFooter)
	return dst, nil
}

// DecodeRecord parses one record from the front of data and returns it with
// the number of bytes consumed. The returned Data aliases data.
func DecodeRecord(data []byte, sum Checksum) (*Record, int, error) {
	if len(data) < headerSize {
		return nil, 0, ErrTruncated
	}

	if magic := binary.LittleEndian.Uint32(data); magic != MagicHeader {
		return nil, 0, fmt.Errorf("invalid magic header: %x", magic)
	}
	if crc := binary.LittleEndian.Uint32(data[20:]); crc != crc32.ChecksumIEEE(data[:20]) {
		return nil, 0, fmt.Errorf("header CRC mismatch: got %x", crc)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != Version {
		return nil, 0, fmt.Errorf("unsupported record version: %d", v)
	}

	length := int(binary.LittleEndian.Uint32(data[8:]))
	if length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("invalid record length: %d", length)
	}
	total := recordOverhead + length
	if len(data) < total {
		return nil, 0, ErrTruncated
	}

	bodyEnd := headerSize + prefixSize + length
	expected := binary.LittleEndian.Uint64(data[bodyEnd:])
	if !sum.Verify(data[:bodyEnd], expected) {
		return nil, 0, &ChecksumError{
			Algorithm: sum.Name(),
			Expected:  expected,
			Actual:    sum.Calculate(data[:bodyEnd]),
		}
	}
	if magic := binary.LittleEndian.Uint32(data[bodyEnd+8:]); magic != MagicFooter {
		return nil, 0, fmt.Errorf("invalid magic footer: %x", magic)
	}

	r := &Record{
		Flags:     binary.LittleEndian.Uint16(data[6:]),
		Timestamp: int64(binary.LittleEndian.Uint64(data[12:])),
		Sequence:  binary.LittleEndian.Uint64(data[headerSize:]),
		Channel:   binary.LittleEndian.Uint16(data[headerSize+8:]),
		Data:      data[headerSize+prefixSize : bodyEnd],
	}
	return r, total, nil
}
