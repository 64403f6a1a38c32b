// Package interpreter classifies spends from raw transaction data. Given a
// prior output script, an input's unlocking script and its witness stack, it
// determines the spend shape, re-parses the embedded script under the
// matching context and returns a normalized classification plus the residual
// data stack and the script code to use for signature hashing.
package interpreter

import (
	"bytes"

	"github.com/AreaLayer/elements-miniscript/descriptor"
	"github.com/AreaLayer/elements-miniscript/miniscript"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	compressedKeyLen = 33
	xOnlyKeyLen      = 32

	// taprootAnnexTag marks the optional annex element of a taproot
	// witness.
	taprootAnnexTag = 0x50
)

// KeyType records which encoding a key appeared under on chain.
type KeyType int

const (
	// KeyTypeFull is a 33 or 65 byte key as used by pre-taproot spends.
	KeyTypeFull KeyType = iota

	// KeyTypeXOnly is a 32 byte key as used by taproot spends.
	KeyTypeXOnly
)

// BitcoinKey is a public key together with the encoding it appeared under.
// Classification records the encoding explicitly so downstream logic does
// not have to re-derive it from the spend shape.
type BitcoinKey struct {
	Key  []byte
	Type KeyType
}

// TypedHash160 is a key hash tagged with the encoding of the key it commits
// to, so stack elements popped against it can be decoded unambiguously.
type TypedHash160 struct {
	Hash []byte
	Type KeyType
}

// Hash160 returns the hash160 of the key, tagged with its encoding.
func (k BitcoinKey) Hash160() TypedHash160 {
	return TypedHash160{Hash: btcutil.Hash160(k.Key), Type: k.Type}
}

// PubKeyType identifies the key-only spend shapes.
type PubKeyType int

const (
	PubKeyTypePk PubKeyType = iota
	PubKeyTypePkh
	PubKeyTypeWpkh
	PubKeyTypeShWpkh
	PubKeyTypeTr
)

func (t PubKeyType) String() string {
	switch t {
	case PubKeyTypePk:
		return "pk"
	case PubKeyTypePkh:
		return "pkh"
	case PubKeyTypeWpkh:
		return "wpkh"
	case PubKeyTypeShWpkh:
		return "sh-wpkh"
	case PubKeyTypeTr:
		return "tr"
	default:
		return "unknown"
	}
}

// ScriptType identifies the script spend shapes.
type ScriptType int

const (
	ScriptTypeBare ScriptType = iota
	ScriptTypeSh
	ScriptTypeWsh
	ScriptTypeShWsh
	ScriptTypeTr
)

func (t ScriptType) String() string {
	switch t {
	case ScriptTypeBare:
		return "bare"
	case ScriptTypeSh:
		return "sh"
	case ScriptTypeWsh:
		return "wsh"
	case ScriptTypeShWsh:
		return "sh-wsh"
	case ScriptTypeTr:
		return "tr"
	default:
		return "unknown"
	}
}

// Inner is the normalized classification of a spend. It is one of PublicKey,
// Script or CovScript.
type Inner interface {
	inner()
}

// PublicKey classifies the key-only spend shapes: p2pk, p2pkh, p2wpkh,
// p2sh-wrapped p2wpkh and taproot key spends.
type PublicKey struct {
	Key  BitcoinKey
	Type PubKeyType
}

// Script classifies the script spend shapes. The expression is re-parsed
// from the on-chain script and re-expressed under the NoChecks context.
type Script struct {
	Ms   *miniscript.AST
	Type ScriptType
}

// CovScript is a recognized covenant witness script, split into its binding
// key and inner expression.
type CovScript struct {
	Key BitcoinKey
	Ms  *miniscript.AST
}

func (*PublicKey) inner() {}
func (*Script) inner()    {}
func (*CovScript) inner() {}

func fullKey(pubKey []byte) BitcoinKey {
	return BitcoinKey{Key: pubKey, Type: KeyTypeFull}
}

// pkFromBytes validates a full public key, checking compressedness if asked
// to but otherwise accepting uncompressed keys.
func pkFromBytes(data []byte, requireCompressed bool) ([]byte, error) {
	if _, err := btcec.ParsePubKey(data); err != nil {
		return nil, ErrPubkeyParse
	}
	if requireCompressed && len(data) != compressedKeyLen {
		return nil, ErrUncompressedPubkey
	}
	return data, nil
}

func pkFromElement(elem Element, requireCompressed bool) ([]byte, error) {
	data, err := elem.push()
	if err != nil {
		return nil, ErrPubkeyParse
	}
	return pkFromBytes(data, requireCompressed)
}

// msFromElement parses a stack element as a miniscript under the given
// context. Sentinels map to their one-opcode scripts.
func msFromElement(ctx *miniscript.Context,
	elem Element) (*miniscript.AST, error) {

	return miniscript.ParseScript(ctx, elem.scriptBytes())
}

func p2pkhScript(keyHash []byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		panic(err)
	}
	return script
}

func isP2PK(spk []byte) bool {
	return (len(spk) == 35 && spk[0] == txscript.OP_DATA_33 &&
		spk[34] == txscript.OP_CHECKSIG) ||
		(len(spk) == 67 && spk[0] == txscript.OP_DATA_65 &&
			spk[66] == txscript.OP_CHECKSIG)
}

func isP2PKH(spk []byte) bool {
	return len(spk) == 25 && spk[0] == txscript.OP_DUP &&
		spk[1] == txscript.OP_HASH160 &&
		spk[2] == txscript.OP_DATA_20 &&
		spk[23] == txscript.OP_EQUALVERIFY &&
		spk[24] == txscript.OP_CHECKSIG
}

// FromTxData classifies a spend from its three raw fields: the prior output
// script, the input's unlocking script and its witness stack. It returns the
// classification, the residual data stack left after consuming the
// classification's elements, and the script code to use for signature
// hashing. Taproot key spends have no script code and return nil.
//
// Classification is all or nothing: a recognized shape whose data does not
// match its commitments fails rather than falling through to another shape.
func FromTxData(spk, scriptSig []byte, witness wire.TxWitness) (Inner,
	*Stack, []byte, error) {

	ssigStack, err := stackFromScriptSig(scriptSig)
	if err != nil {
		return nil, nil, nil, err
	}
	witStack := stackFromWitness(witness)

	switch {
	case isP2PK(spk):
		return innerP2PK(spk, ssigStack, witStack)
	case isP2PKH(spk):
		return innerP2PKH(spk, ssigStack, witStack)
	case txscript.IsPayToWitnessPubKeyHash(spk):
		return innerP2WPKH(spk, ssigStack, witStack)
	case txscript.IsPayToWitnessScriptHash(spk):
		return innerP2WSH(spk, ssigStack, witStack)
	case txscript.IsPayToTaproot(spk):
		return innerP2TR(spk, ssigStack, witStack)
	case txscript.IsPayToScriptHash(spk):
		return innerP2SH(spk, ssigStack, witStack)
	default:
		return innerBare(spk, ssigStack, witStack)
	}
}

func innerP2PK(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	if !witStack.Empty() {
		return nil, nil, nil, ErrNonEmptyWitness
	}
	pubKey, err := pkFromBytes(spk[1:len(spk)-1], false)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Tracef("Classified p2pk spend")
	inner := &PublicKey{Key: fullKey(pubKey), Type: PubKeyTypePk}
	return inner, ssigStack, spk, nil
}

func innerP2PKH(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	if !witStack.Empty() {
		return nil, nil, nil, ErrNonEmptyWitness
	}
	elem, ok := ssigStack.Pop()
	if !ok {
		return nil, nil, nil, ErrUnexpectedStackEnd
	}
	pubKey, err := pkFromElement(elem, false)
	if err != nil {
		return nil, nil, nil, err
	}
	if !bytes.Equal(btcutil.Hash160(pubKey), spk[3:23]) {
		return nil, nil, nil, ErrIncorrectPubkeyHash
	}
	log.Tracef("Classified p2pkh spend")
	inner := &PublicKey{Key: fullKey(pubKey), Type: PubKeyTypePkh}
	return inner, ssigStack, spk, nil
}

func innerP2WPKH(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	if !ssigStack.Empty() {
		return nil, nil, nil, ErrNonEmptyScriptSig
	}
	elem, ok := witStack.Pop()
	if !ok {
		return nil, nil, nil, ErrUnexpectedStackEnd
	}
	pubKey, err := pkFromElement(elem, true)
	if err != nil {
		return nil, nil, nil, err
	}
	keyHash := btcutil.Hash160(pubKey)
	if !bytes.Equal(keyHash, spk[2:22]) {
		return nil, nil, nil, ErrIncorrectWPubkeyHash
	}
	log.Tracef("Classified p2wpkh spend")
	inner := &PublicKey{Key: fullKey(pubKey), Type: PubKeyTypeWpkh}

	// The segwit sighash algorithm signs the p2pkh template over the key
	// hash, not the p2wpkh script itself.
	return inner, witStack, p2pkhScript(keyHash), nil
}

func innerP2WSH(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	if !ssigStack.Empty() {
		return nil, nil, nil, ErrNonEmptyScriptSig
	}
	elem, ok := witStack.Pop()
	if !ok {
		return nil, nil, nil, ErrUnexpectedStackEnd
	}
	witnessScript := elem.scriptBytes()

	// Covenant recognition runs before ordinary parsing. An ordinary
	// script sharing the covenant's opcode suffix classifies as a
	// covenant; changing this priority would change which spends
	// validate.
	pubKey, msScript, covErr := descriptor.SplitCovenantScript(
		witnessScript,
	)
	if covErr == nil {
		ms, err := miniscript.ParseScript(
			miniscript.SegwitV0, msScript,
		)
		if err == nil {
			log.Tracef("Classified p2wsh covenant spend")
			inner := &CovScript{
				Key: fullKey(pubKey),
				Ms:  ms.ToNoChecks(),
			}
			return inner, witStack,
				descriptor.PostCodesepScriptCode(), nil
		}
	}

	ms, err := msFromElement(miniscript.SegwitV0, elem)
	if err != nil {
		return nil, nil, nil, err
	}
	if !bytes.Equal(chainhash.HashB(witnessScript), spk[2:34]) {
		return nil, nil, nil, ErrIncorrectWScriptHash
	}
	log.Tracef("Classified p2wsh spend")
	inner := &Script{Ms: ms.ToNoChecks(), Type: ScriptTypeWsh}
	return inner, witStack, witnessScript, nil
}

func innerP2TR(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	if !ssigStack.Empty() {
		return nil, nil, nil, ErrNonEmptyScriptSig
	}
	outputKey := spk[2:34]
	if _, err := schnorr.ParsePubKey(outputKey); err != nil {
		return nil, nil, nil, ErrXOnlyPubkeyParse
	}

	// The annex changes the sighash in ways this interpreter does not
	// model, so any witness carrying one is rejected outright.
	if top, ok := witStack.Top(); ok && witStack.Len() >= 2 {
		if top.Kind == ElementPush && len(top.Data) > 0 &&
			top.Data[0] == taprootAnnexTag {

			return nil, nil, nil, ErrTapAnnexUnsupported
		}
	}

	switch witStack.Len() {
	case 0:
		return nil, nil, nil, ErrUnexpectedStackEnd

	case 1:
		// Key spend. There is no script code: the sighash commits to
		// the output key directly.
		log.Tracef("Classified taproot key spend")
		inner := &PublicKey{
			Key:  BitcoinKey{Key: outputKey, Type: KeyTypeXOnly},
			Type: PubKeyTypeTr,
		}
		return inner, witStack, nil, nil

	default:
		ctrlElem, _ := witStack.Pop()
		ctrlBytes, err := ctrlElem.push()
		if err != nil {
			return nil, nil, nil, err
		}
		scriptElem, _ := witStack.Pop()
		tapScript := scriptElem.scriptBytes()

		ctrlBlock, err := txscript.ParseControlBlock(ctrlBytes)
		if err != nil {
			return nil, nil, nil, ErrControlBlockParse
		}
		ms, err := msFromElement(miniscript.Tap, scriptElem)
		if err != nil {
			return nil, nil, nil, err
		}
		err = txscript.VerifyTaprootLeafCommitment(
			ctrlBlock, outputKey, tapScript,
		)
		if err != nil {
			return nil, nil, nil, ErrControlBlockVerification
		}
		log.Tracef("Classified taproot script spend")
		inner := &Script{Ms: ms.ToNoChecks(), Type: ScriptTypeTr}

		// The raw tapscript doubles as the script code. Callers must
		// know this convention: it is not a derived sighash template.
		return inner, witStack, tapScript, nil
	}
}

func innerP2SH(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	elem, ok := ssigStack.Pop()
	if !ok {
		return nil, nil, nil, ErrUnexpectedStackEnd
	}

	if elem.Kind == ElementPush {
		redeem := elem.Data
		if !bytes.Equal(btcutil.Hash160(redeem), spk[2:22]) {
			return nil, nil, nil, ErrIncorrectScriptHash
		}

		// Nested p2wpkh: redeem script is exactly the 22 byte witness
		// program.
		if len(redeem) == 22 && redeem[0] == 0 && redeem[1] == 20 {
			return innerShWpkh(redeem, ssigStack, witStack)
		}

		// Nested p2wsh: redeem script is exactly the 34 byte witness
		// program.
		if len(redeem) == 34 && redeem[0] == 0 && redeem[1] == 32 {
			return innerShWsh(redeem, ssigStack, witStack)
		}
	}

	// Plain p2sh, redeem script parsed under the legacy context.
	redeemScript := elem.scriptBytes()
	ms, err := miniscript.ParseScript(miniscript.Legacy, redeemScript)
	if err != nil {
		return nil, nil, nil, err
	}
	if !witStack.Empty() {
		return nil, nil, nil, ErrNonEmptyWitness
	}
	if !bytes.Equal(btcutil.Hash160(redeemScript), spk[2:22]) {
		return nil, nil, nil, ErrIncorrectScriptHash
	}
	log.Tracef("Classified p2sh spend")
	inner := &Script{Ms: ms.ToNoChecks(), Type: ScriptTypeSh}
	return inner, ssigStack, redeemScript, nil
}

func innerShWpkh(redeem []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	elem, ok := witStack.Pop()
	if !ok {
		return nil, nil, nil, ErrUnexpectedStackEnd
	}
	if !ssigStack.Empty() {
		return nil, nil, nil, ErrNonEmptyScriptSig
	}
	pubKey, err := pkFromElement(elem, true)
	if err != nil {
		return nil, nil, nil, err
	}
	keyHash := btcutil.Hash160(pubKey)
	if !bytes.Equal(keyHash, redeem[2:]) {
		return nil, nil, nil, ErrIncorrectWScriptHash
	}
	log.Tracef("Classified p2sh-p2wpkh spend")
	inner := &PublicKey{Key: fullKey(pubKey), Type: PubKeyTypeShWpkh}
	return inner, witStack, p2pkhScript(keyHash), nil
}

func innerShWsh(redeem []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	elem, ok := witStack.Pop()
	if !ok {
		return nil, nil, nil, ErrUnexpectedStackEnd
	}
	if !ssigStack.Empty() {
		return nil, nil, nil, ErrNonEmptyScriptSig
	}
	witnessScript := elem.scriptBytes()
	ms, err := msFromElement(miniscript.SegwitV0, elem)
	if err != nil {
		return nil, nil, nil, err
	}
	if !bytes.Equal(chainhash.HashB(witnessScript), redeem[2:]) {
		return nil, nil, nil, ErrIncorrectWScriptHash
	}
	log.Tracef("Classified p2sh-p2wsh spend")
	inner := &Script{Ms: ms.ToNoChecks(), Type: ScriptTypeShWsh}
	return inner, witStack, witnessScript, nil
}

func innerBare(spk []byte, ssigStack, witStack *Stack) (Inner, *Stack,
	[]byte, error) {

	if !witStack.Empty() {
		return nil, nil, nil, ErrNonEmptyWitness
	}
	ms, err := miniscript.ParseScript(miniscript.BareCtx, spk)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Tracef("Classified bare script spend")
	inner := &Script{Ms: ms.ToNoChecks(), Type: ScriptTypeBare}
	return inner, ssigStack, spk, nil
}
