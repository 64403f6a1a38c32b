package descriptor

import (
	"encoding/hex"
	"fmt"

	"github.com/AreaLayer/elements-miniscript/miniscript"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Wpkh is a pay-to-witness-pubkey-hash descriptor. The key must be
// compressed; uncompressed keys in segwit outputs are non-standard.
type Wpkh struct {
	pubKey     []byte
	script     []byte
	scriptCode []byte
}

// NewWpkh builds a p2wpkh descriptor for the given serialized public key.
func NewWpkh(pubKey []byte) (*Wpkh, error) {
	keyBytes, err := checkCompressedPubKey(pubKey)
	if err != nil {
		return nil, err
	}
	keyHash := btcutil.Hash160(keyBytes)
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(keyHash).
		Script()
	if err != nil {
		return nil, err
	}
	// Sighash computation for p2wpkh inputs uses the p2pkh template over
	// the same key hash.
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, err
	}
	return &Wpkh{
		pubKey:     keyBytes,
		script:     script,
		scriptCode: scriptCode,
	}, nil
}

func wpkhFromTree(node *tree) (*Wpkh, error) {
	pubKey, err := parsePubKey(node.args[0].raw)
	if err != nil {
		return nil, err
	}
	return NewWpkh(pubKey)
}

// PubKey returns the serialized public key.
func (w *Wpkh) PubKey() []byte {
	return w.pubKey
}

// ScriptPubKey returns the p2wpkh output script.
func (w *Wpkh) ScriptPubKey() []byte {
	return w.script
}

// ExplicitScript returns the output script. P2wpkh has no witness script.
func (w *Wpkh) ExplicitScript() []byte {
	return w.script
}

// UnsignedScriptSig returns an empty script.
func (w *Wpkh) UnsignedScriptSig() []byte {
	return nil
}

// ScriptCode returns the p2pkh style script used for sighash computation.
func (w *Wpkh) ScriptCode() []byte {
	return w.scriptCode
}

// Address returns the p2wpkh address of the output.
func (w *Wpkh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(w.pubKey), params,
	)
}

// MaxSatisfactionWeight returns the maximum weight of the spending witness:
// the element count, a signature push and a key push.
func (w *Wpkh) MaxSatisfactionWeight() (int, error) {
	return 4 + 1 + 73 + 1 + len(w.pubKey), nil
}

// SanityCheck always passes. Key compression is enforced at construction.
func (w *Wpkh) SanityCheck() error {
	return nil
}

// Satisfaction produces the [signature, pubkey] witness stack.
func (w *Wpkh) Satisfaction(satisfier *Satisfier) (wire.TxWitness, []byte,
	error) {

	sig, available := satisfier.Sign(w.pubKey)
	if !available {
		return nil, nil, &MissingSignatureError{PubKey: w.pubKey}
	}
	return wire.TxWitness{sig, w.pubKey}, nil, nil
}

// SatisfactionMalleable is identical to Satisfaction. A single signature
// check has no malleable paths.
func (w *Wpkh) SatisfactionMalleable(satisfier *Satisfier) (wire.TxWitness,
	[]byte, error) {

	return w.Satisfaction(satisfier)
}

// ForEachKey calls fn with the single key.
func (w *Wpkh) ForEachKey(fn func(pubKey []byte) bool) bool {
	return fn(w.pubKey)
}

// TranslateKeys returns a copy with the key mapped through the translator.
func (w *Wpkh) TranslateKeys(
	translator miniscript.KeyTranslator) (Descriptor, error) {

	pubKey, err := translator.TranslateKey(w.pubKey)
	if err != nil {
		return nil, fmt.Errorf("translating key: %w", err)
	}
	return NewWpkh(pubKey)
}

// String serializes the descriptor with its checksum tag.
func (w *Wpkh) String() string {
	return appendChecksum(fmt.Sprintf("%swpkh(%s)", namespace,
		hex.EncodeToString(w.pubKey)))
}

// Wsh is a pay-to-witness-script-hash descriptor. The miniscript encodes
// into the witness script and the output commits to its sha256.
type Wsh struct {
	ms            *miniscript.AST
	witnessScript []byte
	script        []byte
}

// NewWsh wraps a top level miniscript expression as a p2wsh descriptor. The
// expression must be parsed under the segwit v0 context.
func NewWsh(ms *miniscript.AST) (*Wsh, error) {
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	witnessScript, err := ms.Script()
	if err != nil {
		return nil, err
	}
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(chainhash.HashB(witnessScript)).
		Script()
	if err != nil {
		return nil, err
	}
	return &Wsh{
		ms:            ms,
		witnessScript: witnessScript,
		script:        script,
	}, nil
}

func wshFromTree(node *tree) (*Wsh, error) {
	ms, err := parseMiniscript(miniscript.SegwitV0, node.args[0].raw)
	if err != nil {
		return nil, err
	}
	return NewWsh(ms)
}

// Miniscript returns the underlying script expression.
func (w *Wsh) Miniscript() *miniscript.AST {
	return w.ms
}

// ScriptPubKey returns the p2wsh output script.
func (w *Wsh) ScriptPubKey() []byte {
	return w.script
}

// ExplicitScript returns the witness script.
func (w *Wsh) ExplicitScript() []byte {
	return w.witnessScript
}

// UnsignedScriptSig returns an empty script.
func (w *Wsh) UnsignedScriptSig() []byte {
	return nil
}

// ScriptCode returns the witness script used for sighash computation.
func (w *Wsh) ScriptCode() []byte {
	return w.witnessScript
}

// Address returns the p2wsh address of the output.
func (w *Wsh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(w.witnessScript), params,
	)
}

// MaxSatisfactionWeight returns the maximum weight of the spending witness,
// including the witness script push and the element count varints.
func (w *Wsh) MaxSatisfactionWeight() (int, error) {
	maxSat, err := w.ms.MaxSatisfactionSize()
	if err != nil {
		return 0, err
	}
	maxElements, err := w.ms.MaxSatisfactionElements()
	if err != nil {
		return 0, err
	}
	scriptLen := w.ms.ScriptLen()
	return 4 + varintLen(scriptLen) + scriptLen +
		varintLen(maxElements+1) + maxSat, nil
}

// SanityCheck verifies that the miniscript is consensus and standardness
// compliant and has no malleable satisfaction paths.
func (w *Wsh) SanityCheck() error {
	return w.ms.IsSane()
}

// Satisfaction produces the witness stack spending the output, with the
// witness script as the final element.
func (w *Wsh) Satisfaction(satisfier *Satisfier) (wire.TxWitness, []byte,
	error) {

	witness, err := w.ms.Satisfy(&satisfier.Satisfier)
	if err != nil {
		return nil, nil, err
	}
	return append(witness, w.witnessScript), nil, nil
}

// SatisfactionMalleable is like Satisfaction but also accepts malleable
// satisfaction paths.
func (w *Wsh) SatisfactionMalleable(satisfier *Satisfier) (wire.TxWitness,
	[]byte, error) {

	witness, err := w.ms.SatisfyMalleable(&satisfier.Satisfier)
	if err != nil {
		return nil, nil, err
	}
	return append(witness, w.witnessScript), nil, nil
}

// ForEachKey calls fn for each public key in the descriptor.
func (w *Wsh) ForEachKey(fn func(pubKey []byte) bool) bool {
	return w.ms.ForEachKey(fn)
}

// TranslateKeys returns a copy with every key mapped through the translator.
func (w *Wsh) TranslateKeys(
	translator miniscript.KeyTranslator) (Descriptor, error) {

	translated, err := w.ms.TranslateKeys(translator)
	if err != nil {
		return nil, err
	}
	return NewWsh(translated)
}

// String serializes the descriptor with its checksum tag.
func (w *Wsh) String() string {
	return appendChecksum(fmt.Sprintf("%swsh(%s)", namespace,
		w.ms.String()))
}
