package descriptor

import (
	"encoding/hex"
	"fmt"

	"github.com/AreaLayer/elements-miniscript/miniscript"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Bare is a raw output script descriptor: the miniscript encodes directly
// into the scriptPubKey with no hash wrapping. Spends place the satisfaction
// in the scriptSig and carry no witness.
type Bare struct {
	ms     *miniscript.AST
	script []byte
}

// NewBare wraps a top level miniscript expression as a bare descriptor. The
// expression must be parsed under the bare context and have all key
// variables resolved.
func NewBare(ms *miniscript.AST) (*Bare, error) {
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	script, err := ms.Script()
	if err != nil {
		return nil, err
	}
	return &Bare{ms: ms, script: script}, nil
}

func bareFromTree(node *tree) (*Bare, error) {
	src, err := stripNamespace(node.raw)
	if err != nil {
		return nil, err
	}
	ms, err := parseMiniscript(miniscript.BareCtx, src)
	if err != nil {
		return nil, err
	}
	return NewBare(ms)
}

// Miniscript returns the underlying script expression.
func (b *Bare) Miniscript() *miniscript.AST {
	return b.ms
}

// ScriptPubKey returns the output script.
func (b *Bare) ScriptPubKey() []byte {
	return b.script
}

// ExplicitScript returns the output script. For bare descriptors the
// executed script is the output script itself.
func (b *Bare) ExplicitScript() []byte {
	return b.script
}

// UnsignedScriptSig returns an empty script.
func (b *Bare) UnsignedScriptSig() []byte {
	return nil
}

// ScriptCode returns the script used for sighash computation.
func (b *Bare) ScriptCode() []byte {
	return b.script
}

// Address returns an error. Raw script outputs have no address form.
func (b *Bare) Address(params *chaincfg.Params) (btcutil.Address, error) {
	return nil, ErrBareDescriptorAddress
}

// MaxSatisfactionWeight returns the maximum weight of a spending scriptSig.
func (b *Bare) MaxSatisfactionWeight() (int, error) {
	scriptSigLen, err := b.ms.MaxSatisfactionSize()
	if err != nil {
		return 0, err
	}
	return 4 * (varintLen(scriptSigLen) + scriptSigLen), nil
}

// SanityCheck verifies that the miniscript is consensus and standardness
// compliant and has no malleable satisfaction paths.
func (b *Bare) SanityCheck() error {
	return b.ms.IsSane()
}

// Satisfaction produces a scriptSig spending the output. The witness stack
// is always empty for bare descriptors.
func (b *Bare) Satisfaction(satisfier *Satisfier) (wire.TxWitness, []byte,
	error) {

	witness, err := b.ms.Satisfy(&satisfier.Satisfier)
	if err != nil {
		return nil, nil, err
	}
	scriptSig, err := witnessToScriptSig(witness)
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

// SatisfactionMalleable is like Satisfaction but also accepts malleable
// satisfaction paths.
func (b *Bare) SatisfactionMalleable(satisfier *Satisfier) (wire.TxWitness,
	[]byte, error) {

	witness, err := b.ms.SatisfyMalleable(&satisfier.Satisfier)
	if err != nil {
		return nil, nil, err
	}
	scriptSig, err := witnessToScriptSig(witness)
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

// ForEachKey calls fn for each public key in the descriptor.
func (b *Bare) ForEachKey(fn func(pubKey []byte) bool) bool {
	return b.ms.ForEachKey(fn)
}

// TranslateKeys returns a copy with every key mapped through the translator.
func (b *Bare) TranslateKeys(
	translator miniscript.KeyTranslator) (Descriptor, error) {

	translated, err := b.ms.TranslateKeys(translator)
	if err != nil {
		return nil, err
	}
	return NewBare(translated)
}

// String serializes the descriptor with its checksum tag.
func (b *Bare) String() string {
	return appendChecksum(namespace + b.ms.String())
}

// Pkh is a pay-to-pubkey-hash descriptor. The output script is the
// canonical five opcode p2pkh template over the hash of a single key.
type Pkh struct {
	pubKey []byte
	script []byte
}

// NewPkh builds a p2pkh descriptor for the given serialized public key.
func NewPkh(pubKey []byte) (*Pkh, error) {
	keyBytes, err := checkPubKey(pubKey)
	if err != nil {
		return nil, err
	}
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(keyBytes)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, err
	}
	return &Pkh{pubKey: keyBytes, script: script}, nil
}

func pkhFromTree(node *tree) (*Pkh, error) {
	pubKey, err := parsePubKey(node.args[0].raw)
	if err != nil {
		return nil, err
	}
	return NewPkh(pubKey)
}

// PubKey returns the serialized public key.
func (p *Pkh) PubKey() []byte {
	return p.pubKey
}

// ScriptPubKey returns the p2pkh output script.
func (p *Pkh) ScriptPubKey() []byte {
	return p.script
}

// ExplicitScript returns the output script.
func (p *Pkh) ExplicitScript() []byte {
	return p.script
}

// UnsignedScriptSig returns an empty script.
func (p *Pkh) UnsignedScriptSig() []byte {
	return nil
}

// ScriptCode returns the script used for sighash computation.
func (p *Pkh) ScriptCode() []byte {
	return p.script
}

// Address returns the p2pkh address of the output.
func (p *Pkh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(p.pubKey), params)
}

// MaxSatisfactionWeight returns the maximum weight of a spending scriptSig:
// a signature push and a key push.
func (p *Pkh) MaxSatisfactionWeight() (int, error) {
	return 4 * (1 + 73 + scriptPushLen(len(p.pubKey))), nil
}

// SanityCheck always passes. A single key p2pkh has no malleability or
// resource limit concerns.
func (p *Pkh) SanityCheck() error {
	return nil
}

// Satisfaction produces the [signature, pubkey] scriptSig.
func (p *Pkh) Satisfaction(satisfier *Satisfier) (wire.TxWitness, []byte,
	error) {

	sig, available := satisfier.Sign(p.pubKey)
	if !available {
		return nil, nil, &MissingSignatureError{PubKey: p.pubKey}
	}
	scriptSig, err := txscript.NewScriptBuilder().
		AddData(sig).
		AddData(p.pubKey).
		Script()
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

// SatisfactionMalleable is identical to Satisfaction. A single signature
// check has no malleable paths.
func (p *Pkh) SatisfactionMalleable(satisfier *Satisfier) (wire.TxWitness,
	[]byte, error) {

	return p.Satisfaction(satisfier)
}

// ForEachKey calls fn with the single key.
func (p *Pkh) ForEachKey(fn func(pubKey []byte) bool) bool {
	return fn(p.pubKey)
}

// TranslateKeys returns a copy with the key mapped through the translator.
func (p *Pkh) TranslateKeys(
	translator miniscript.KeyTranslator) (Descriptor, error) {

	pubKey, err := translator.TranslateKey(p.pubKey)
	if err != nil {
		return nil, fmt.Errorf("translating key: %w", err)
	}
	return NewPkh(pubKey)
}

// String serializes the descriptor with its checksum tag.
func (p *Pkh) String() string {
	return appendChecksum(fmt.Sprintf("%spkh(%s)", namespace,
		hex.EncodeToString(p.pubKey)))
}
