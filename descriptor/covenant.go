package descriptor

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/AreaLayer/elements-miniscript/miniscript"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// opCheckSigFromStack is the Elements opcode that verifies a signature
// against a message taken from the stack instead of the transaction sighash.
// It is not defined by btcd since Bitcoin never activated it.
const opCheckSigFromStack = 0xc1

const (
	// covenantPreambleLen is the encoded size of the covenant opcode
	// preamble appended to the inner script.
	covenantPreambleLen = 58

	// covenantPreambleOps is the number of execution ops the preamble
	// contributes toward the per-script op limit.
	covenantPreambleOps = 24

	// covenantScriptCodeLen is the size of the script code suffix that
	// follows the preamble's OP_CODESEPARATOR.
	covenantScriptCodeLen = 14

	// covenantMaxOps is the consensus limit on ops per script.
	covenantMaxOps = 201

	// covenantMaxScriptSize is the consensus limit on witness script
	// size.
	covenantMaxScriptSize = 10000

	// covenantMaxStandardScriptSize is the standardness limit on p2wsh
	// witness script size.
	covenantMaxStandardScriptSize = 3600

	// covenantSatisfactionOverhead bounds the witness bytes added by the
	// covenant signature and the eleven sighash component pushes.
	covenantSatisfactionOverhead = 275
)

// CovenantSatisfier supplies the sighash components of the spending
// transaction, in the form the covenant script expects them pushed onto the
// witness stack. Each lookup reports false when the component is not known.
type CovenantSatisfier struct {
	// LookupNVersion returns the transaction version.
	LookupNVersion func() (uint32, bool)

	// LookupHashPrevouts returns the hash of all input outpoints.
	LookupHashPrevouts func() (chainhash.Hash, bool)

	// LookupHashSequence returns the hash of all input sequence numbers.
	LookupHashSequence func() (chainhash.Hash, bool)

	// LookupHashIssuances returns the hash of all input issuances.
	LookupHashIssuances func() (chainhash.Hash, bool)

	// LookupOutpoint returns the outpoint spent by the covenant input.
	LookupOutpoint func() (wire.OutPoint, bool)

	// LookupScriptCode returns the script code signed by the covenant
	// input, i.e. the suffix of the witness script after the
	// OP_CODESEPARATOR.
	LookupScriptCode func() ([]byte, bool)

	// LookupValue returns the value of the output being spent.
	LookupValue func() (uint64, bool)

	// LookupNSequence returns the sequence number of the covenant input.
	LookupNSequence func() (uint32, bool)

	// LookupOutputs returns all outputs of the spending transaction. The
	// hashOutputs sighash component is computed from them.
	LookupOutputs func() ([]*wire.TxOut, bool)

	// LookupNLocktime returns the transaction locktime.
	LookupNLocktime func() (uint32, bool)

	// LookupSighashType returns the sighash type the covenant signature
	// commits to.
	LookupSighashType func() (uint32, bool)

	// SignHash returns a DER signature over the transaction sighash for
	// the given key, together with the hash type it was created with.
	// The signature carries no hash type byte; the covenant script
	// reconstructs the signed message from the witness items instead.
	SignHash func(pubKey []byte) (sig []byte, hashType uint32,
		available bool)
}

// Covenant is a p2wsh descriptor whose witness script enforces a covenant:
// the spending transaction must expose its sighash components on the
// witness stack, where the inner miniscript and an OP_CHECKSIGFROMSTACK
// over the binding key can introspect them.
type Covenant struct {
	pubKey    []byte
	ms        *miniscript.AST
	covScript []byte
	script    []byte
}

// buildCovenantPreamble returns the 58 byte opcode sequence appended to the
// inner script. It reassembles the sighash serialization from the witness
// items, checks a transaction signature for the binding key and then checks
// the same signature against the reassembled message with
// OP_CHECKSIGFROMSTACK, forcing both to agree on the transaction data.
func buildCovenantPreamble(pubKey []byte) []byte {
	preamble := make([]byte, 0, covenantPreambleLen)
	preamble = append(preamble,
		txscript.OP_VERIFY,
		txscript.OP_11,
		txscript.OP_PICK,
		txscript.OP_OVER,
		txscript.OP_1,
		txscript.OP_LEFT,
		txscript.OP_CAT,
		txscript.OP_DATA_33,
	)
	preamble = append(preamble, pubKey...)
	preamble = append(preamble,
		txscript.OP_DUP,
		txscript.OP_TOALTSTACK,
		txscript.OP_CODESEPARATOR,
		txscript.OP_CHECKSIGVERIFY,
	)
	for i := 0; i < 10; i++ {
		preamble = append(preamble, txscript.OP_CAT)
	}
	preamble = append(preamble,
		txscript.OP_SHA256,
		txscript.OP_FROMALTSTACK,
		opCheckSigFromStack,
	)
	return preamble
}

// matchCovenantPreamble reports whether the 57 bytes following the
// preamble's leading OP_VERIFY match the covenant template.
func matchCovenantPreamble(tail []byte) bool {
	if len(tail) != covenantPreambleLen-1 {
		return false
	}
	if tail[0] != txscript.OP_11 ||
		tail[1] != txscript.OP_PICK ||
		tail[2] != txscript.OP_OVER ||
		tail[3] != txscript.OP_1 ||
		tail[4] != txscript.OP_LEFT ||
		tail[5] != txscript.OP_CAT ||
		tail[6] != txscript.OP_DATA_33 {

		return false
	}
	if tail[40] != txscript.OP_DUP ||
		tail[41] != txscript.OP_TOALTSTACK ||
		tail[42] != txscript.OP_CODESEPARATOR ||
		tail[43] != txscript.OP_CHECKSIGVERIFY {

		return false
	}
	for i := 44; i < 54; i++ {
		if tail[i] != txscript.OP_CAT {
			return false
		}
	}
	return tail[54] == txscript.OP_SHA256 &&
		tail[55] == txscript.OP_FROMALTSTACK &&
		tail[56] == opCheckSigFromStack
}

// PostCodesepScriptCode returns the script code signed by the covenant
// signature: the preamble suffix after the OP_CODESEPARATOR. It is the same
// for every covenant descriptor since the suffix contains no key material.
func PostCodesepScriptCode() []byte {
	return []byte{
		txscript.OP_CHECKSIGVERIFY,
		txscript.OP_CAT, txscript.OP_CAT, txscript.OP_CAT,
		txscript.OP_CAT, txscript.OP_CAT, txscript.OP_CAT,
		txscript.OP_CAT, txscript.OP_CAT, txscript.OP_CAT,
		txscript.OP_CAT,
		txscript.OP_SHA256,
		txscript.OP_FROMALTSTACK,
		opCheckSigFromStack,
	}
}

// fuseVerify maps an opcode to its VERIFY form, if one exists.
func fuseVerify(op byte) (byte, bool) {
	switch op {
	case txscript.OP_EQUAL:
		return txscript.OP_EQUALVERIFY, true
	case txscript.OP_CHECKSIG:
		return txscript.OP_CHECKSIGVERIFY, true
	case txscript.OP_CHECKMULTISIG:
		return txscript.OP_CHECKMULTISIGVERIFY, true
	default:
		return 0, false
	}
}

// unfuseVerify is the inverse of fuseVerify.
func unfuseVerify(op byte) (byte, bool) {
	switch op {
	case txscript.OP_EQUALVERIFY:
		return txscript.OP_EQUAL, true
	case txscript.OP_CHECKSIGVERIFY:
		return txscript.OP_CHECKSIG, true
	case txscript.OP_CHECKMULTISIGVERIFY:
		return txscript.OP_CHECKMULTISIG, true
	default:
		return 0, false
	}
}

// NewCovenant builds a covenant descriptor binding the given compressed key
// over the inner miniscript. The expression must be parsed under the segwit
// v0 context.
func NewCovenant(pubKey []byte, ms *miniscript.AST) (*Covenant, error) {
	keyBytes, err := checkCompressedPubKey(pubKey)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}

	// When the inner script ends in OP_EQUAL, OP_CHECKSIG or
	// OP_CHECKMULTISIG, the preamble's leading OP_VERIFY fuses into it
	// and saves one byte and one op.
	freeVerify := 0
	if ms.CanCollapseVerify() {
		freeVerify = 1
	}

	if _, err := ms.MaxSatisfactionSize(); err != nil {
		return nil, ErrImpossibleSatisfaction
	}
	opCount := ms.MaxOpCount() + covenantPreambleOps - freeVerify
	if opCount > covenantMaxOps {
		return nil, ErrImpossibleSatisfaction
	}
	scriptSize := ms.ScriptLen() + covenantPreambleLen - freeVerify
	if scriptSize > covenantMaxScriptSize {
		return nil, ErrScriptSizeTooLarge
	}

	msScript, err := ms.Script()
	if err != nil {
		return nil, err
	}
	preamble := buildCovenantPreamble(keyBytes)
	covScript := make([]byte, 0, scriptSize)
	if freeVerify == 1 {
		fused, ok := fuseVerify(msScript[len(msScript)-1])
		if !ok {
			return nil, fmt.Errorf("script reports a free verify " +
				"but does not end in a fusable opcode")
		}
		covScript = append(covScript, msScript[:len(msScript)-1]...)
		covScript = append(covScript, fused)
		covScript = append(covScript, preamble[1:]...)
	} else {
		covScript = append(covScript, msScript...)
		covScript = append(covScript, preamble...)
	}

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(chainhash.HashB(covScript)).
		Script()
	if err != nil {
		return nil, err
	}
	return &Covenant{
		pubKey:    keyBytes,
		ms:        ms,
		covScript: covScript,
		script:    script,
	}, nil
}

func covenantFromTree(node *tree) (*Covenant, error) {
	pubKey, err := parsePubKey(node.args[0].raw)
	if err != nil {
		return nil, err
	}
	ms, err := parseMiniscript(miniscript.SegwitV0, node.args[1].raw)
	if err != nil {
		return nil, err
	}
	return NewCovenant(pubKey, ms)
}

// SplitCovenantScript splits a witness script into the covenant binding key
// and the inner script, undoing the verify fusion if the inner script's
// final opcode absorbed the preamble's OP_VERIFY. It fails with
// ErrBadCovenantDescriptor when the script does not end in the covenant
// preamble.
func SplitCovenantScript(script []byte) (pubKey []byte, msScript []byte,
	err error) {

	n := len(script)
	if n < covenantPreambleLen {
		return nil, nil, ErrBadCovenantDescriptor
	}

	tail := script[n-covenantPreambleLen+1:]
	if script[n-covenantPreambleLen] == txscript.OP_VERIFY &&
		matchCovenantPreamble(tail) {

		return tail[7:40], script[:n-covenantPreambleLen], nil
	}

	if matchCovenantPreamble(tail) {
		unfused, ok := unfuseVerify(script[n-covenantPreambleLen])
		if !ok {
			return nil, nil, ErrBadCovenantDescriptor
		}
		msScript = append([]byte{}, script[:n-covenantPreambleLen+1]...)
		msScript[len(msScript)-1] = unfused
		return tail[7:40], msScript, nil
	}
	return nil, nil, ErrBadCovenantDescriptor
}

// ParseCovenantScript decodes a covenant descriptor from its full witness
// script.
func ParseCovenantScript(script []byte) (*Covenant, error) {
	pubKey, msScript, err := SplitCovenantScript(script)
	if err != nil {
		return nil, err
	}
	ms, err := miniscript.ParseScript(miniscript.SegwitV0, msScript)
	if err != nil {
		return nil, err
	}
	return NewCovenant(pubKey, ms)
}

// PubKey returns the covenant binding key.
func (c *Covenant) PubKey() []byte {
	return c.pubKey
}

// Miniscript returns the inner script expression.
func (c *Covenant) Miniscript() *miniscript.AST {
	return c.ms
}

// ScriptPubKey returns the p2wsh output script.
func (c *Covenant) ScriptPubKey() []byte {
	return c.script
}

// ExplicitScript returns the full witness script, preamble included.
func (c *Covenant) ExplicitScript() []byte {
	return c.covScript
}

// UnsignedScriptSig returns an empty script.
func (c *Covenant) UnsignedScriptSig() []byte {
	return nil
}

// ScriptCode returns the full witness script.
func (c *Covenant) ScriptCode() []byte {
	return c.covScript
}

// CovenantScriptCode returns the script code actually signed by the
// covenant signature: the witness script suffix after the
// OP_CODESEPARATOR.
func (c *Covenant) CovenantScriptCode() []byte {
	return c.covScript[len(c.covScript)-covenantScriptCodeLen:]
}

// Address returns the p2wsh address of the output.
func (c *Covenant) Address(params *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(c.covScript), params,
	)
}

// MaxSatisfactionWeight returns the maximum weight of the spending witness:
// the inner satisfaction plus the covenant signature, the eleven sighash
// component pushes and the witness script push.
func (c *Covenant) MaxSatisfactionWeight() (int, error) {
	maxSat, err := c.ms.MaxSatisfactionSize()
	if err != nil {
		return 0, err
	}
	maxElements, err := c.ms.MaxSatisfactionElements()
	if err != nil {
		return 0, err
	}
	scriptLen := len(c.covScript)
	return 4 + varintLen(scriptLen) + scriptLen +
		varintLen(maxElements+12) + maxSat +
		covenantSatisfactionOverhead, nil
}

// SanityCheck verifies the inner miniscript and the standardness script
// size limit for the combined witness script.
func (c *Covenant) SanityCheck() error {
	if err := c.ms.IsSane(); err != nil {
		return err
	}
	if len(c.covScript) > covenantMaxStandardScriptSize {
		return ErrScriptSizeTooLarge
	}
	return nil
}

// sighashItems serializes the eleven sighash components in witness order.
func (c *Covenant) sighashItems(cov *CovenantSatisfier) (wire.TxWitness,
	uint32, error) {

	nVersion, ok := cov.LookupNVersion()
	if !ok {
		return nil, 0, missingSighashItem(1)
	}
	hashPrevouts, ok := cov.LookupHashPrevouts()
	if !ok {
		return nil, 0, missingSighashItem(2)
	}
	hashSequence, ok := cov.LookupHashSequence()
	if !ok {
		return nil, 0, missingSighashItem(3)
	}
	hashIssuances, ok := cov.LookupHashIssuances()
	if !ok {
		return nil, 0, missingSighashItem(4)
	}
	outpoint, ok := cov.LookupOutpoint()
	if !ok {
		return nil, 0, missingSighashItem(5)
	}
	scriptCode, ok := cov.LookupScriptCode()
	if !ok {
		return nil, 0, missingSighashItem(6)
	}
	value, ok := cov.LookupValue()
	if !ok {
		return nil, 0, missingSighashItem(7)
	}
	nSequence, ok := cov.LookupNSequence()
	if !ok {
		return nil, 0, missingSighashItem(8)
	}
	outputs, ok := cov.LookupOutputs()
	if !ok {
		return nil, 0, missingSighashItem(9)
	}
	nLocktime, ok := cov.LookupNLocktime()
	if !ok {
		return nil, 0, missingSighashItem(10)
	}
	sighashType, ok := cov.LookupSighashType()
	if !ok {
		return nil, 0, missingSighashItem(11)
	}

	outpointBytes := make([]byte, 36)
	copy(outpointBytes, outpoint.Hash[:])
	binary.LittleEndian.PutUint32(outpointBytes[32:], outpoint.Index)

	var scriptCodeBuf bytes.Buffer
	err := wire.WriteVarBytes(&scriptCodeBuf, 0, scriptCode)
	if err != nil {
		return nil, 0, err
	}

	var outputsBuf bytes.Buffer
	for _, txOut := range outputs {
		err := wire.WriteTxOut(&outputsBuf, 0, 0, txOut)
		if err != nil {
			return nil, 0, err
		}
	}
	hashOutputs := chainhash.DoubleHashB(outputsBuf.Bytes())

	items := wire.TxWitness{
		uint32LE(nVersion),
		hashPrevouts[:],
		hashSequence[:],
		hashIssuances[:],
		outpointBytes,
		scriptCodeBuf.Bytes(),
		uint64LE(value),
		uint32LE(nSequence),
		hashOutputs,
		uint32LE(nLocktime),
		uint32LE(sighashType),
	}
	return items, sighashType, nil
}

func (c *Covenant) satisfaction(satisfier *Satisfier,
	msSatisfy func(*miniscript.Satisfier) (wire.TxWitness,
		error)) (wire.TxWitness, []byte, error) {

	if satisfier.Covenant == nil {
		return nil, nil, fmt.Errorf("covenant descriptors require " +
			"a covenant satisfier")
	}
	cov := satisfier.Covenant

	items, sighashType, err := c.sighashItems(cov)
	if err != nil {
		return nil, nil, err
	}

	sig, hashType, available := cov.SignHash(c.pubKey)
	if !available {
		return nil, nil, ErrMissingCovSignature
	}
	if _, err := ecdsa.ParseDERSignature(sig); err != nil {
		return nil, nil, fmt.Errorf("covenant signature: %w", err)
	}
	if hashType != sighashType {
		return nil, nil, ErrCovenantSighashTypeMismatch
	}

	msWitness, err := msSatisfy(&satisfier.Satisfier)
	if err != nil {
		return nil, nil, err
	}

	witness := make(wire.TxWitness, 0, len(items)+len(msWitness)+2)
	witness = append(witness, sig)
	witness = append(witness, items...)
	witness = append(witness, msWitness...)
	witness = append(witness, c.covScript)
	return witness, nil, nil
}

// Satisfaction produces the witness stack spending the output: the covenant
// signature, the eleven sighash components, the inner satisfaction and the
// witness script.
func (c *Covenant) Satisfaction(satisfier *Satisfier) (wire.TxWitness,
	[]byte, error) {

	return c.satisfaction(satisfier, c.ms.Satisfy)
}

// SatisfactionMalleable is like Satisfaction but also accepts malleable
// inner satisfaction paths.
func (c *Covenant) SatisfactionMalleable(satisfier *Satisfier) (
	wire.TxWitness, []byte, error) {

	return c.satisfaction(satisfier, c.ms.SatisfyMalleable)
}

// ForEachKey calls fn with the binding key, then for each key of the inner
// script.
func (c *Covenant) ForEachKey(fn func(pubKey []byte) bool) bool {
	if !fn(c.pubKey) {
		return false
	}
	return c.ms.ForEachKey(fn)
}

// TranslateKeys returns a copy with the binding key and every inner key
// mapped through the translator.
func (c *Covenant) TranslateKeys(
	translator miniscript.KeyTranslator) (Descriptor, error) {

	pubKey, err := translator.TranslateKey(c.pubKey)
	if err != nil {
		return nil, fmt.Errorf("translating covenant key: %w", err)
	}
	translated, err := c.ms.TranslateKeys(translator)
	if err != nil {
		return nil, err
	}
	return NewCovenant(pubKey, translated)
}

// String serializes the descriptor with its checksum tag.
func (c *Covenant) String() string {
	return appendChecksum(fmt.Sprintf("%scovwsh(%s,%s)", namespace,
		hex.EncodeToString(c.pubKey), c.ms.String()))
}

func uint32LE(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func uint64LE(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}
