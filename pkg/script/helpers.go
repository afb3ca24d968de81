package script

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// decompileErr wraps a tokenizer failure (or a structural mismatch msg found
// by the caller) into a single descriptive error, folding in the
// tokenizer's own parse error when it has one.
func decompileErr(tok txscript.ScriptTokenizer, msg string) error {
	if err := tok.Err(); err != nil {
		return fmt.Errorf("script: %s: %w", msg, err)
	}
	return fmt.Errorf("script: %s", msg)
}

// scriptNumToUint32 decodes the minimally-encoded script number produced by
// the tokenizer for the opcode/data pair at the tokenizer's current
// position, returning it as a uint32. It accepts both the small-integer
// opcodes (OP_0, OP_1..OP_16) txscript.ScriptBuilder.AddInt64 emits for
// values in [0,16] and ordinary minimal-push encodings for larger values.
func scriptNumToUint32(data []byte, opcode byte) (uint32, error) {
	if opcode == txscript.OP_0 {
		return 0, nil
	}
	if opcode >= txscript.OP_1 && opcode <= txscript.OP_16 {
		return uint32(opcode-txscript.OP_1) + 1, nil
	}

	if len(data) == 0 {
		return 0, fmt.Errorf("empty script number")
	}
	if len(data) > 5 {
		return 0, fmt.Errorf("script number too long (%d bytes)", len(data))
	}

	// Minimal-encoding check: the most significant byte must not be 0x00
	// (or 0x80) unless dropping it would flip the sign bit of the
	// remaining bytes, matching the canonical script-number rule
	// txscript itself enforces when it builds these pushes.
	if len(data) > 0 {
		last := data[len(data)-1]
		if last&0x7f == 0 {
			if len(data) == 1 || data[len(data)-2]&0x80 == 0 {
				return 0, fmt.Errorf("non-minimally encoded script number")
			}
		}
	}

	var v int64
	for i, b := range data {
		v |= int64(b) << uint(8*i)
	}

	// Top bit of the most significant byte is the sign flag, not magnitude.
	negative := data[len(data)-1]&0x80 != 0
	if negative {
		v &^= int64(0x80) << uint(8*(len(data)-1))
		v = -v
	}

	if v < 0 || v > int64(^uint32(0)) {
		return 0, fmt.Errorf("script number %d out of uint32 range", v)
	}
	return uint32(v), nil
}

// encodeScriptNum returns the minimal script-number encoding of v: empty
// bytes for 0, otherwise the shortest little-endian sign-magnitude encoding
// with no non-minimal leading byte. This is the witness-stack encoding a
// finalizer pushes directly (not run through ScriptBuilder, since it's data
// carried in the witness, not compiled into a script).
func encodeScriptNum(v uint32) []byte {
	if v == 0 {
		return nil
	}

	n := int64(v)
	negative := n < 0
	if negative {
		n = -n
	}

	var result []byte
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	if result[len(result)-1]&0x80 != 0 {
		if negative {
			result = append(result, 0x80)
		} else {
			result = append(result, 0x00)
		}
	} else if negative {
		result[len(result)-1] |= 0x80
	}

	return result
}
