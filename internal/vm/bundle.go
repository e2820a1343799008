package vm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/funvibe/pybc/internal/future"
)

func init() {
	// Register constant types for gob serialization
	gob.Register(&CodeUnit{})
	gob.Register(&big.Int{})
	gob.Register(Ellipsis)
}

// Bundle is a compiled unit with the metadata needed to cache and reload it.
type Bundle struct {
	// BuildID identifies one compilation
	BuildID string

	// SourceFile is the original document path (for error messages)
	SourceFile string

	// Digest is the hex SHA-256 of the source document
	Digest string

	// Features are the future features in effect before the document's
	// own __future__ imports. With Digest it keys the bundle store.
	Features future.Flags

	Unit *CodeUnit
}

const bundleVersion byte = 0x01

var bundleMagic = [4]byte{'P', 'Y', 'B', 'C'}

// NewBundle wraps unit under a fresh build id.
func NewBundle(unit *CodeUnit, sourceFile, digest string, features future.Flags) *Bundle {
	return &Bundle{
		BuildID:    uuid.NewString(),
		SourceFile: sourceFile,
		Digest:     digest,
		Features:   features,
		Unit:       unit,
	}
}

// Serialize converts a Bundle to binary format.
// Format:
// - Magic number (4 bytes): "PYBC"
// - Version (1 byte): 0x01
// - Gob-encoded Bundle data
func (b *Bundle) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(bundleMagic[:])
	buf.WriteByte(bundleVersion)

	enc := gob.NewEncoder(buf)
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("bundle gob encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeBundle reads data produced by Serialize.
func DeserializeBundle(data []byte) (*Bundle, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("bytecode data too short")
	}
	if !bytes.Equal(data[:4], bundleMagic[:]) {
		return nil, fmt.Errorf("invalid magic number, expected PYBC")
	}
	if data[4] != bundleVersion {
		return nil, fmt.Errorf("unsupported bytecode version: %d (this binary supports version %d)", data[4], bundleVersion)
	}

	dec := gob.NewDecoder(bytes.NewReader(data[5:]))
	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("bundle gob decoding failed: %w", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("bundle validation failed: %w", err)
	}
	return &bundle, nil
}

// Validate checks that every operand of every unit indexes its tables.
func (b *Bundle) Validate() error {
	if b.Unit == nil {
		return fmt.Errorf("bundle has no unit")
	}
	for _, u := range b.Unit.Units() {
		if err := u.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CodeUnit) validate() error {
	n := len(c.Code)
	for pc, ins := range c.Code {
		bad := false
		switch jumpOperand(ins.Op) {
		case 1:
			bad = ins.A < 0 || ins.A >= n
		case 2:
			bad = ins.B < 0 || ins.B >= n
		}
		switch ins.Op {
		case OP_LOAD_CONST:
			bad = bad || ins.A < 0 || ins.A >= len(c.Constants)
		case OP_LOAD_FAST, OP_STORE_FAST, OP_DELETE_FAST:
			bad = bad || ins.A < 0 || ins.A >= c.LocalCount
		case OP_LOAD_DEREF, OP_STORE_DEREF:
			bad = bad || ins.A < 0 || ins.A >= c.EnvSize()
		case OP_LOAD_NAME, OP_STORE_NAME, OP_DELETE_NAME, OP_LOAD_GLOBAL,
			OP_STORE_GLOBAL, OP_DELETE_GLOBAL, OP_LOAD_ATTR, OP_STORE_ATTR,
			OP_DELETE_ATTR, OP_IMPORT_NAME, OP_IMPORT_FROM:
			bad = bad || ins.A < 0 || ins.A >= len(c.Names)
		}
		if bad {
			return fmt.Errorf("%s@%d: %s operand out of range", c.Name, pc, ins.Op)
		}
	}
	for _, r := range c.ExceptionTable {
		if r.Start < 0 || r.End > n || r.Start >= r.End || r.Handler < 0 || r.Handler >= n {
			return fmt.Errorf("%s: exception range %d-%d -> %d out of range", c.Name, r.Start, r.End, r.Handler)
		}
	}
	return nil
}
