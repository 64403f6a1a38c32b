package miniscript

import "fmt"

const (
	// compressedKeyLen is the length of a serialized compressed public
	// key (legacy, segwit v0 and bare scripts).
	compressedKeyLen = 33

	// uncompressedKeyLen is the length of a serialized uncompressed
	// public key. Only pre-segwit contexts accept these.
	uncompressedKeyLen = 65

	// xOnlyKeyLen is the length of a BIP-340 x-only public key (tapscript
	// only).
	xOnlyKeyLen = 32

	// hash160Len is the length of a RIPEMD160(SHA256(..)) hash, used for
	// key hashes. A pk_h value of this length is a hash, any other length
	// is a key.
	hash160Len = 20

	// maxScriptSize is the maximum script size permitted by consensus.
	maxScriptSize = 10000

	// maxRedeemScriptSize is the maximum size of a p2sh redeem script,
	// bounded by the maximum script element push.
	maxRedeemScriptSize = 520

	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxOpsPerScript is the maximum number of non-push operations per
	// script. Tapscript replaces this limit with the witness-weight
	// budget, so the Tap context does not enforce it.
	maxOpsPerScript = 201

	// multisigMaxKeys is the maximum number of keys in a multisig.
	multisigMaxKeys = 20
)

// Context is the profile of consensus and standardness rules under which a
// miniscript is parsed, encoded and satisfied. It fixes the accepted public
// key encoding, the script size ceiling, whether the script-wide op limit
// applies and which fragments are admissible.
//
// Contexts are passed explicitly to Parse and ParseScript; every node of the
// resulting AST remembers its context. Translating a tree into a different
// context requires re-parsing or an explicit key translation.
type Context struct {
	name string

	// pkLen is the required serialized public key length. Zero means any
	// accepted encoding is allowed (NoChecks).
	pkLen int

	// allowUncompressed permits 65-byte uncompressed keys in addition to
	// pkLen-sized ones.
	allowUncompressed bool

	// maxScriptSize is the script size ceiling enforced by isValid.
	maxScriptSize int

	// checkOpLimit applies the 201 op consensus limit to satisfactions.
	checkOpLimit bool

	// permits is the admissible-fragment predicate: it reports whether a
	// fragment identifier may appear under this context. Nil permits
	// every fragment.
	permits func(identifier string) bool
}

// Name returns the context name, e.g. "segwitv0".
func (c *Context) Name() string {
	return c.name
}

// permitsFragment verifies that a fragment is available under this context,
// both when parsing an expression and when decoding a raw script.
func (c *Context) permitsFragment(identifier string) error {
	if c.permits == nil || c.permits(identifier) {
		return nil
	}
	return fmt.Errorf("fragment %s is not available in the %s context",
		identifier, c.name)
}

// checkKeyLen verifies that a serialized public key has an encoding
// acceptable under this context.
func (c *Context) checkKeyLen(key []byte) error {
	if c.pkLen == 0 {
		switch len(key) {
		case compressedKeyLen, uncompressedKeyLen, xOnlyKeyLen:
			return nil
		}
		return fmt.Errorf("pubkey of size %d not recognized", len(key))
	}
	if len(key) == c.pkLen {
		return nil
	}
	if c.allowUncompressed && len(key) == uncompressedKeyLen {
		return nil
	}
	return fmt.Errorf("pubkey expected to be of size %d in %s context, "+
		"but got %d", c.pkLen, c.name, len(key))
}

// keyPushLen is the script length of a data push of a key with the default
// encoding for this context.
func (c *Context) keyPushLen() int {
	if c.pkLen == 0 {
		return compressedKeyLen + 1
	}
	return c.pkLen + 1
}

var (
	// Legacy is the context of pre-segwit p2sh redeem scripts. Keys are
	// 33-byte compressed but uncompressed keys are tolerated.
	Legacy = &Context{
		name:              "legacy",
		pkLen:             compressedKeyLen,
		allowUncompressed: true,
		maxScriptSize:     maxRedeemScriptSize,
		checkOpLimit:      true,
	}

	// SegwitV0 is the context of p2wsh witness scripts. Keys must be
	// compressed.
	SegwitV0 = &Context{
		name:          "segwitv0",
		pkLen:         compressedKeyLen,
		maxScriptSize: maxStandardP2WSHScriptSize,
		checkOpLimit:  true,
	}

	// Tap is the context of tapscript leaves. Keys are 32-byte x-only and
	// the per-script op limit does not apply. Tapscript removed
	// OP_CHECKMULTISIG (BIP342), so multi is not available here.
	Tap = &Context{
		name:          "tap",
		pkLen:         xOnlyKeyLen,
		maxScriptSize: maxScriptSize,
		permits: func(identifier string) bool {
			return identifier != f_multi
		},
	}

	// BareCtx is the context of raw output scripts with no hash wrapping.
	BareCtx = &Context{
		name:              "bare",
		pkLen:             compressedKeyLen,
		allowUncompressed: true,
		maxScriptSize:     maxScriptSize,
		checkOpLimit:      true,
	}

	// NoChecks is the interpreter context: scripts already confirmed
	// on-chain are re-expressed here after classification, with the
	// original key encoding recorded per occurrence. No context rules are
	// enforced.
	NoChecks = &Context{
		name:          "nochecks",
		maxScriptSize: maxScriptSize,
	}
)
