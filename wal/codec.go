package wal

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Compression selects the payload compressor.
type Compression int

const (
	// CompressionNone stores payloads as given
	CompressionNone Compression = iota
	// CompressionSnappy compresses payloads with snappy
	CompressionSnappy
	// CompressionZstd compresses payloads with zstd
	CompressionZstd
)

// ParseCompression maps a config name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression: %s", name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// deriveKey stretches a passphrase into a ChaCha20-Poly1305 key.
// N=32768 (2^15), r=8, p=1.
func deriveKey(passphrase, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, 32768, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// codec applies compression then encryption to payloads.
type codec struct {
	compression Compression
	enc         *zstd.Encoder
	dec         *zstd.Decoder
	aead        cipher.AEAD
}

func newCodec(compression Compression, key []byte) (*codec, error) {
	c := &codec{compression: compression}

	var err error
	c.enc, err = zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	c.dec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if key != nil {
		c.aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
	}
	return c, nil
}

// encode returns the stored form of data and the flags describing it.
func (c *codec) encode(data []byte) ([]byte, uint16, error) {
	var flags uint16
	out := data

	switch c.compression {
	case CompressionSnappy:
		out = snappy.Encode(nil, out)
		flags |= FlagSnappy
	case CompressionZstd:
		out = c.enc.EncodeAll(out, nil)
		flags |= FlagZstd
	}

	if c.aead != nil {
		nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(out)+c.aead.Overhead())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, 0, fmt.Errorf("failed to generate nonce: %w", err)
		}
		out = c.aead.Seal(nonce, nonce, out, nil)
		flags |= FlagEncrypted
	}

	return out, flags, nil
}

// decode reverses encode according to flags.
func (c *codec) decode(data []byte, flags uint16) ([]byte, error) {
	out := data

	if flags&FlagEncrypted != 0 {
		if c.aead == nil {
			return nil, fmt.Errorf("record is encrypted but no passphrase was given")
		}
		nonceSize := c.aead.NonceSize()
		if len(out) < nonceSize {
			return nil, fmt.Errorf("ciphertext too short")
		}
		plain, err := c.aead.Open(nil, out[:nonceSize], out[nonceSize:], nil)
		if err != nil {
			return nil, fmt.Errorf("decryption failed: %w", err)
		}
		out = plain
	}

	switch {
	case flags&FlagSnappy != 0:
		plain, err := snappy.Decode(nil, out)
		if err != nil {
			return nil, fmt.Errorf("snappy decode failed: %w", err)
		}
		out = plain
	case flags&FlagZstd != 0:
		plain, err := c.dec.DecodeAll(out, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode failed: %w", err)
		}
		out = plain
	}

	return out, nil
}

func (c *codec) close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
