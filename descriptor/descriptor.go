// Package descriptor implements output script descriptors for
// Elements-style chains. A descriptor is a textual expression that maps to
// exactly one scriptPubKey, together with enough information to derive the
// witness or scriptSig that spends it. Descriptor names carry the "el"
// namespace prefix to distinguish them from their Bitcoin counterparts.
package descriptor

import (
	"fmt"
	"strings"

	"github.com/AreaLayer/elements-miniscript/miniscript"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// namespace is the textual prefix of descriptor names on this chain.
const namespace = "el"

// Descriptor is a parsed output script descriptor. Implementations are
// immutable after construction.
type Descriptor interface {
	// ScriptPubKey returns the output script this descriptor commits to.
	ScriptPubKey() []byte

	// ExplicitScript returns the script that ends up being executed:
	// the redeem script for plain P2SH, the witness script for segwit
	// variants and the output script itself otherwise.
	ExplicitScript() []byte

	// UnsignedScriptSig returns the portion of the scriptSig that is
	// fixed before any signatures exist. Only P2SH-nested segwit
	// descriptors have a non-empty unsigned scriptSig.
	UnsignedScriptSig() []byte

	// ScriptCode returns the script used for sighash computation when
	// spending this output.
	ScriptCode() []byte

	// Address returns the address form of the output, if one exists.
	Address(params *chaincfg.Params) (btcutil.Address, error)

	// MaxSatisfactionWeight returns the maximum weight the satisfaction
	// of this descriptor adds to a transaction input.
	MaxSatisfactionWeight() (int, error)

	// SanityCheck verifies that the descriptor is consensus and
	// standardness compliant and has no malleable satisfaction paths.
	SanityCheck() error

	// Satisfaction produces a non-malleable witness stack and scriptSig
	// spending the output, using the given satisfier for signatures and
	// preimages.
	Satisfaction(satisfier *Satisfier) (wire.TxWitness, []byte, error)

	// SatisfactionMalleable is like Satisfaction but also accepts
	// satisfaction paths that third parties could malleate.
	SatisfactionMalleable(satisfier *Satisfier) (wire.TxWitness, []byte,
		error)

	// ForEachKey calls fn for each public key in the descriptor until
	// fn returns false. It returns false if any invocation did, or if a
	// key is only known by its hash.
	ForEachKey(fn func(pubKey []byte) bool) bool

	// TranslateKeys returns a copy of the descriptor with every key and
	// key hash mapped through the translator.
	TranslateKeys(translator miniscript.KeyTranslator) (Descriptor, error)

	// String serializes the descriptor, checksum tag included. The
	// output parses back to an equivalent descriptor.
	String() string
}

// Satisfier provides the signatures, preimages and transaction data needed
// to build a witness for a descriptor. The embedded miniscript satisfier
// serves the script conditions; Covenant is consulted only by covenant
// descriptors and may be nil otherwise.
type Satisfier struct {
	miniscript.Satisfier

	Covenant *CovenantSatisfier
}

// Parse parses a descriptor string, verifying its checksum. The string must
// carry exactly one '#' separator followed by the 8 character tag.
func Parse(desc string) (Descriptor, error) {
	body, err := VerifyChecksum(desc)
	if err != nil {
		return nil, err
	}
	node, err := parseExpression(body)
	if err != nil {
		return nil, err
	}
	d, err := fromTree(node)
	if err != nil {
		return nil, err
	}
	log.Tracef("Parsed descriptor %T from %q", d, desc)
	return d, nil
}

// ParsePreTaproot is like Parse but restricts the result to descriptor
// kinds that existed before taproot, excluding covenants.
func ParsePreTaproot(desc string) (Descriptor, error) {
	d, err := Parse(desc)
	if err != nil {
		return nil, err
	}
	if _, ok := d.(*Covenant); ok {
		return nil, fmt.Errorf("covenant descriptors are not " +
			"pre-taproot")
	}
	return d, nil
}

func fromTree(node *tree) (Descriptor, error) {
	switch {
	case node.name == namespace+"pkh" && len(node.args) == 1:
		return pkhFromTree(node)
	case node.name == namespace+"wpkh" && len(node.args) == 1:
		return wpkhFromTree(node)
	case node.name == namespace+"sh" && len(node.args) == 1:
		return shFromTree(node)
	case node.name == namespace+"wsh" && len(node.args) == 1:
		return wshFromTree(node)
	case node.name == namespace+"covwsh" && len(node.args) == 2:
		return covenantFromTree(node)
	default:
		// Anything else is a bare miniscript with the namespace
		// prefix fused onto its first fragment name.
		return bareFromTree(node)
	}
}

// stripNamespace removes the chain prefix from the raw text of a bare
// descriptor expression.
func stripNamespace(raw string) (string, error) {
	if !strings.HasPrefix(raw, namespace) {
		return "", ErrNotElements
	}
	return raw[len(namespace):], nil
}

// parseMiniscript parses a miniscript expression in which every key and hash
// argument is a hex literal, as descriptor strings require.
func parseMiniscript(ctx *miniscript.Context,
	src string) (*miniscript.AST, error) {

	ms, err := miniscript.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	err = ms.ApplyVars(func(identifier string) ([]byte, error) {
		// Returning nil makes the identifier itself parse as hex.
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// varintLen returns the serialized size of a compact size integer.
func varintLen(n int) int {
	return wire.VarIntSerializeSize(uint64(n))
}

// scriptPushLen returns the serialized size of a data push of n bytes,
// opcode and length prefix included.
func scriptPushLen(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1 + n
	case n < 0x100:
		return 2 + n
	case n < 0x10000:
		return 3 + n
	default:
		return 5 + n
	}
}

// witnessToScriptSig converts a witness stack into an equivalent scriptSig
// by pushing every element with a minimal push.
func witnessToScriptSig(witness wire.TxWitness) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, element := range witness {
		builder.AddData(element)
	}
	return builder.Script()
}

// pushData returns a script consisting of a single minimal push of data.
func pushData(data []byte) []byte {
	script, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		panic(fmt.Sprintf("push of %d bytes failed: %v", len(data),
			err))
	}
	return script
}
