// Package gguf reads the header and metadata section of GGUF model files.
// It never touches tensor data; it exists so the wrapper can verify a model
// path and report model metadata before handing the file to a backend.
package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ggufai/ggufai/model"
)

// ErrNotGGUF is returned when the file does not start with the GGUF magic.
var ErrNotGGUF = errors.New("not a gguf file")

// Metadata value types from the GGUF container spec.
const (
	typeUint8 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// maxStringLen bounds a single metadata string; anything larger means a
// corrupt or hostile file.
const maxStringLen = 1 << 24

// File is the parsed metadata of a GGUF model file.
type File struct {
	Info model.Info
	// Vocab holds the raw token pieces from tokenizer.ggml.tokens.
	// Only populated by Read, not ReadInfo.
	Vocab []string
}

// ReadInfo parses the file header and metadata, skipping the vocabulary
// contents (only its length is recorded).
func ReadInfo(path string) (model.Info, error) {
	f, err := parse(path, false)
	if err != nil {
		return model.Info{}, err
	}
	return f.Info, nil
}

// Read parses the file header and metadata, retaining the vocabulary token
// pieces for local detokenization.
func Read(path string) (*File, error) {
	return parse(path, true)
}

func parse(path string, keepVocab bool) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := bufio.NewReaderSize(fh, 1<<16)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("gguf %s: %w", path, ErrNotGGUF)
	}
	if string(magic[:]) != "GGUF" {
		return nil, fmt.Errorf("gguf %s: magic %q: %w", path, magic[:], ErrNotGGUF)
	}

	out := &File{Info: model.Info{Path: path}}
	if err := readLE(r, &out.Info.Version); err != nil {
		return nil, fmt.Errorf("gguf %s: version: %w", path, err)
	}
	if out.Info.Version < 2 || out.Info.Version > 3 {
		return nil, fmt.Errorf("gguf %s: unsupported version %d", path, out.Info.Version)
	}
	if err := readLE(r, &out.Info.TensorCount); err != nil {
		return nil, fmt.Errorf("gguf %s: tensor count: %w", path, err)
	}
	var kvCount uint64
	if err := readLE(r, &kvCount); err != nil {
		return nil, fmt.Errorf("gguf %s: kv count: %w", path, err)
	}

	for i := uint64(0); i < kvCount; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("gguf %s: key %d: %w", path, i, err)
		}
		var vt uint32
		if err := readLE(r, &vt); err != nil {
			return nil, fmt.Errorf("gguf %s: %s: value type: %w", path, key, err)
		}
		if err := out.consume(r, key, vt, keepVocab); err != nil {
			return nil, fmt.Errorf("gguf %s: %s: %w", path, key, err)
		}
	}

	return out, nil
}

// consume reads one metadata value, recording the ones the wrapper cares
// about and discarding the rest.
func (f *File) consume(r *bufio.Reader, key string, vt uint32, keepVocab bool) error {
	switch vt {
	case typeString:
		s, err := readString(r)
		if err != nil {
			return err
		}
		switch key {
		case "general.architecture":
			f.Info.Architecture = s
		case "general.name":
			f.Info.Name = s
		}
		return nil

	case typeArray:
		var elemType uint32
		if err := readLE(r, &elemType); err != nil {
			return err
		}
		var count uint64
		if err := readLE(r, &count); err != nil {
			return err
		}
		if key == "tokenizer.ggml.tokens" && elemType == typeString {
			f.Info.VocabSize = int(count)
			if keepVocab {
				f.Vocab = make([]string, 0, count)
			}
		}
		for i := uint64(0); i < count; i++ {
			if elemType == typeString {
				s, err := readString(r)
				if err != nil {
					return err
				}
				if f.Vocab != nil && key == "tokenizer.ggml.tokens" {
					f.Vocab = append(f.Vocab, s)
				}
				continue
			}
			if err := skipScalar(r, elemType); err != nil {
				return err
			}
		}
		return nil

	default:
		v, err := readScalar(r, vt)
		if err != nil {
			return err
		}
		if strings.HasSuffix(key, ".context_length") {
			f.Info.ContextLength = int(v)
		}
		return nil
	}
}

func scalarSize(vt uint32) (int, error) {
	switch vt {
	case typeUint8, typeInt8, typeBool:
		return 1, nil
	case typeUint16, typeInt16:
		return 2, nil
	case typeUint32, typeInt32, typeFloat32:
		return 4, nil
	case typeUint64, typeInt64, typeFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unknown metadata value type %d", vt)
}

// readScalar reads a fixed-width value and returns it widened to int64
// (floats are returned as their truncated integer value; the wrapper only
// keeps integer metadata).
func readScalar(r *bufio.Reader, vt uint32) (int64, error) {
	size, err := scalarSize(vt)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:size]); err != nil {
		return 0, err
	}
	var v int64
	switch size {
	case 1:
		v = int64(buf[0])
	case 2:
		v = int64(binary.LittleEndian.Uint16(buf[:2]))
	case 4:
		v = int64(binary.LittleEndian.Uint32(buf[:4]))
	case 8:
		v = int64(binary.LittleEndian.Uint64(buf[:8]))
	}
	return v, nil
}

func skipScalar(r *bufio.Reader, vt uint32) error {
	size, err := scalarSize(vt)
	if err != nil {
		return err
	}
	_, err = r.Discard(size)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	var n uint64
	if err := readLE(r, &n); err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readLE(r io.Reader, v any) error {
	return binary.Read(r, binary.LittleEndian, v)
}
