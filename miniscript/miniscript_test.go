package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestSplitString tests the splitString function.
func TestSplitString(t *testing.T) {
	separators := func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	}

	testCases := []struct {
		str      string
		expected []string
	}{
		{
			str:      "",
			expected: []string{},
		},
		{
			str:      "0",
			expected: []string{"0"},
		},
		{
			str:      "0)(1(",
			expected: []string{"0", ")", "(", "1", "("},
		},
		{
			str: "or_b(pk(key_1),s:pk(key_2))",
			expected: []string{
				"or_b", "(", "pk", "(", "key_1", ")", ",",
				"s:pk", "(", "key_2", ")", ")",
			},
		},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, splitString(tc.str, separators))
	}
}

// testKey returns a deterministic 33 byte test key for an index. The keys
// are not necessarily on the curve; script construction does not care.
func testKey(index byte) []byte {
	return append([]byte{0x02}, chainhash.HashB([]byte{index})...)
}

// applyTestKeys resolves every variable to a deterministic 33 byte key.
// Identifiers that look like hex hashes are parsed as concrete values.
func applyTestKeys(node *AST) error {
	return node.ApplyVars(func(identifier string) ([]byte, error) {
		if len(identifier) == 64 || len(identifier) == 40 ||
			len(identifier) == 66 {

			return nil, nil
		}
		return append(
			chainhash.HashB([]byte(identifier)), 0,
		), nil
	})
}

// TestParseValid parses known-good expressions and checks that they are
// sane, that the produced script matches the computed script length and that
// serialization reproduces the input.
func TestParseValid(t *testing.T) {
	t.Parallel()

	testCases := []string{
		"pk(key_1)",
		"pkh(key_1)",
		"and_v(v:pk(key_1),pk(key_2))",
		"and_b(pk(key_1),a:pk(key_2))",
		"or_b(pk(key_1),s:pk(key_2))",
		"or_d(pk(key_1),pkh(key_2))",
		"or_i(pk(key_1),pk(key_2))",
		"andor(pk(key_1),pk(key_2),pk(key_3))",
		"multi(2,key_1,key_2,key_3)",
		"thresh(2,pk(key_1),s:pk(key_2),a:pk(key_3))",
		"and_v(v:pk(key_1),older(144))",
		"and_v(v:pk(key_1),after(500000001))",
		"j:and_v(v:pkh(key_1),older(18))",
		"t:or_c(pk(key_1),v:pk(key_2))",
		"and_v(v:pk(key_1),sha256(" +
			"926a54995ca48600920a19bf7bc502ca5f2f7d07e6f804c4f00ebf" +
			"65a13a270e))",
	}

	for _, tc := range testCases {
		node, err := Parse(SegwitV0, tc)
		require.NoErrorf(t, err, "miniscript: %s", tc)
		require.NoErrorf(t, node.IsSane(), "miniscript: %s", tc)
		require.Equal(t, tc, node.String())

		require.NoError(t, applyTestKeys(node))

		script, err := node.Script()
		require.NoError(t, err)
		require.Equalf(t, node.ScriptLen(), len(script),
			"script length mismatch for %s", tc)
	}
}

// TestParseInvalid ensures malformed and ill-typed expressions are rejected.
func TestParseInvalid(t *testing.T) {
	t.Parallel()

	testCases := []string{
		"",
		"pk()",
		"pk(key_1",
		"unknown(key_1)",
		// Wrong argument counts.
		"and_v(v:pk(key_1))",
		"andor(pk(key_1),pk(key_2))",
		// Type errors: and_v needs a V first argument.
		"and_v(pk(key_1),pk(key_2))",
		// or_b needs a W second argument.
		"or_b(pk(key_1),pk(key_2))",
		// Threshold out of range.
		"multi(0,key_1,key_2)",
		"multi(3,key_1,key_2)",
		"thresh(4,pk(key_1),s:pk(key_2),s:pk(key_3))",
		// Timelock values out of range.
		"and_v(v:pk(key_1),older(0))",
		"and_v(v:pk(key_1),older(2147483648))",
		// Wrappers on the wrong type: v:v is not a valid chain.
		"vv:pk(key_1)",
	}

	for _, tc := range testCases {
		_, err := Parse(SegwitV0, tc)
		require.Errorf(t, err, "expected failure for: %s", tc)
	}
}

// TestContextKeyLengths checks the per-context key encoding rules.
func TestContextKeyLengths(t *testing.T) {
	t.Parallel()

	key32 := chainhash.HashB([]byte("x-only"))
	key33 := testKey(1)
	key65 := append([]byte{0x04}, bytes.Repeat([]byte{7}, 64)...)

	testCases := []struct {
		ctx   *Context
		key   []byte
		valid bool
	}{
		{Legacy, key33, true},
		{Legacy, key65, true},
		{Legacy, key32, false},
		{SegwitV0, key33, true},
		{SegwitV0, key65, false},
		{SegwitV0, key32, false},
		{Tap, key32, true},
		{Tap, key33, false},
		{BareCtx, key33, true},
		{BareCtx, key65, true},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.ctx, "pk(key_1)")
		require.NoError(t, err)
		err = node.ApplyVars(func(string) ([]byte, error) {
			return tc.key, nil
		})
		if tc.valid {
			require.NoErrorf(t, err, "ctx %s, key length %d",
				tc.ctx.Name(), len(tc.key))
		} else {
			require.Errorf(t, err, "ctx %s, key length %d",
				tc.ctx.Name(), len(tc.key))
		}
	}
}

// TestContextFragments checks the per-context fragment availability rules.
func TestContextFragments(t *testing.T) {
	t.Parallel()

	// Tapscript removed OP_CHECKMULTISIG, so multi must not parse under
	// the Tap context.
	_, err := Parse(Tap, "multi(1,key_1)")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not available in the tap context")

	// The same expression is fine where the opcode exists.
	_, err = Parse(SegwitV0, "multi(1,key_1)")
	require.NoError(t, err)

	// A raw 1-of-1 multisig over an x-only key must not decode as a
	// tapscript leaf either.
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1)
	builder.AddData(chainhash.HashB([]byte("x-only leaf key")))
	builder.AddOp(txscript.OP_1)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	script, err := builder.Script()
	require.NoError(t, err)

	_, err = ParseScript(Tap, script)
	require.Error(t, err)

	// The context is what rejects it, not the script shape.
	_, err = ParseScript(NoChecks, script)
	require.NoError(t, err)
}

// TestDecodeRoundTrip encodes expressions to script, decodes them back and
// checks that the decoded tree serializes to the expected canonical form and
// re-encodes to the identical script.
func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	key1 := hex.EncodeToString(testKey(1))
	key2 := hex.EncodeToString(testKey(2))
	key3 := hex.EncodeToString(testKey(3))
	// Script decoding only sees the hash160 of pkh keys.
	hash1 := hex.EncodeToString(btcutil.Hash160(testKey(1)))
	h32 := "926a54995ca48600920a19bf7bc502ca5f2f7d07e6f804c4f00ebf65a13" +
		"a270e"

	testCases := []struct {
		src string
		// decoded is the expected serialization after a script round
		// trip. Empty means identical to src.
		decoded string
	}{
		{src: fmt.Sprintf("pk(%s)", key1)},
		{
			src:     fmt.Sprintf("pkh(%s)", key1),
			decoded: fmt.Sprintf("pkh(%s)", hash1),
		},
		{src: fmt.Sprintf("and_v(v:pk(%s),pk(%s))", key1, key2)},
		{src: fmt.Sprintf("and_b(pk(%s),a:pk(%s))", key1, key2)},
		{src: fmt.Sprintf("or_b(pk(%s),s:pk(%s))", key1, key2)},
		{src: fmt.Sprintf("or_i(pk(%s),pk(%s))", key1, key2)},
		{src: fmt.Sprintf("or_d(pk(%s),and_v(v:pk(%s),older(144)))",
			key1, key2)},
		{src: fmt.Sprintf("andor(pk(%s),pk(%s),pk(%s))",
			key1, key2, key3)},
		{src: fmt.Sprintf("multi(2,%s,%s,%s)", key1, key2, key3)},
		{src: fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),a:pk(%s))",
			key1, key2, key3)},
		{src: fmt.Sprintf("and_v(v:pk(%s),after(500000001))", key1)},
		{src: fmt.Sprintf("and_v(v:pk(%s),sha256(%s))", key1, h32)},
		{src: fmt.Sprintf("and_v(v:pk(%s),hash160(%s))", key1, hash1)},
		{src: "dv:older(100)"},
		{src: fmt.Sprintf("j:and_v(v:pkh(%s),older(18))", key1),
			decoded: fmt.Sprintf("j:and_v(v:pkh(%s),older(18))",
				hash1)},
		// The n wrapper binds to the nearest expression when decoding, so
		// the script of n:and_v(x,y) reads back as and_v(x,n:y). The two
		// trees encode to the identical script.
		{src: fmt.Sprintf("n:and_v(v:pk(%s),pk(%s))", key1, key2),
			decoded: fmt.Sprintf("and_v(v:pk(%s),n:pk(%s))",
				key1, key2)},
	}

	for _, tc := range testCases {
		node, err := Parse(SegwitV0, tc.src)
		require.NoErrorf(t, err, "miniscript: %s", tc.src)
		require.NoError(t, applyTestKeys(node))

		script, err := node.Script()
		require.NoError(t, err)

		decoded, err := ParseScript(SegwitV0, script)
		require.NoErrorf(t, err, "script of %s", tc.src)

		expected := tc.decoded
		if expected == "" {
			expected = tc.src
		}
		require.Equalf(t, expected, decoded.String(),
			"decode of %s", tc.src)

		script2, err := decoded.Script()
		require.NoError(t, err)
		require.Equal(t, script, script2)
	}
}

// TestSatisfactionSizeBounds checks that the analytically computed
// satisfaction bounds never underestimate an actual satisfaction.
func TestSatisfactionSizeBounds(t *testing.T) {
	t.Parallel()

	preimage := bytes.Repeat([]byte{0x11}, 32)
	preimageHash := hex.EncodeToString(chainhash.HashB(preimage))

	testCases := []string{
		"pk(key_1)",
		"multi(2,key_1,key_2,key_3)",
		"thresh(2,pk(key_1),s:pk(key_2),a:pk(key_3))",
		"or_d(pk(key_1),and_v(v:pk(key_2),older(144)))",
		"andor(pk(key_1),pk(key_2),pk(key_3))",
		fmt.Sprintf("and_v(v:pk(key_1),sha256(%s))", preimageHash),
	}

	// A dummy signature of the maximum realistic size: 72 byte DER plus
	// the hash type byte.
	dummySig := bytes.Repeat([]byte{0x01}, 73)

	satisfier := &Satisfier{
		CheckOlder: func(uint32) (bool, error) { return true, nil },
		CheckAfter: func(uint32) (bool, error) { return true, nil },
		Sign: func(pubKey []byte) ([]byte, bool) {
			return dummySig, true
		},
		Preimage: func(hashFunc string, hash []byte) ([]byte, bool) {
			return preimage, true
		},
	}

	for _, tc := range testCases {
		node, err := Parse(SegwitV0, tc)
		require.NoError(t, err)
		require.NoError(t, applyTestKeys(node))

		witness, err := node.Satisfy(satisfier)
		require.NoErrorf(t, err, "miniscript: %s", tc)

		maxSize, err := node.MaxSatisfactionSize()
		require.NoError(t, err)
		maxElements, err := node.MaxSatisfactionElements()
		require.NoError(t, err)

		actualSize := 0
		for _, element := range witness {
			actualSize += 1 + len(element)
		}
		require.LessOrEqualf(t, actualSize, maxSize,
			"satisfaction size for %s", tc)
		require.LessOrEqualf(t, len(witness), maxElements,
			"satisfaction elements for %s", tc)
	}
}

// TestSatisfyMalleable checks that Satisfy refuses malleable-only paths
// while SatisfyMalleable returns them.
func TestSatisfyMalleable(t *testing.T) {
	t.Parallel()

	// Without the preimage, the only path through or_b carries the
	// signature and dissatisfies the hash branch with a junk preimage
	// slot that any third party could swap out.
	h32 := "926a54995ca48600920a19bf7bc502ca5f2f7d07e6f804c4f00ebf65a13" +
		"a270e"
	src := fmt.Sprintf("or_b(pk(key_1),s:sha256(%s))", h32)
	node, err := Parse(SegwitV0, src)
	require.NoError(t, err)
	require.NoError(t, applyTestKeys(node))

	dummySig := bytes.Repeat([]byte{0x01}, 73)
	sigOnly := &Satisfier{
		CheckOlder: func(uint32) (bool, error) { return true, nil },
		CheckAfter: func(uint32) (bool, error) { return true, nil },
		Sign: func(pubKey []byte) ([]byte, bool) {
			return dummySig, true
		},
		Preimage: func(string, []byte) ([]byte, bool) {
			return nil, false
		},
	}

	_, err = node.Satisfy(sigOnly)
	require.Error(t, err)

	witness, err := node.SatisfyMalleable(sigOnly)
	require.NoError(t, err)
	require.NotEmpty(t, witness)
}

type testSignFn func(pubKey []byte, hash []byte) (signature []byte,
	available bool)

func testRedeem(t *testing.T, miniscript string,
	lookupVar func(identifier string) ([]byte, error), sequence uint32,
	sign testSignFn, preimage PreimageFunc) error {

	// We construct a p2wsh(<miniscript>) UTXO, which we will spend with a
	// satisfaction generated from the miniscript.
	node, err := Parse(SegwitV0, miniscript)
	if err != nil {
		return err
	}
	err = node.IsSane()
	if err != nil {
		return err
	}
	err = node.ApplyVars(lookupVar)
	if err != nil {
		return err
	}
	t.Logf("Tree for miniscript %v: %v", miniscript, node.DrawTree())
	t.Logf("Max op count: %v (%d + %d)", node.maxOpCount(),
		node.opCount.static, node.opCount.sat.n)

	t.Logf("Script: %v", scriptStr(node, false))

	// Create the script.
	witnessScript, err := node.Script()
	if err != nil {
		return err
	}

	// Create the p2wsh(<script>) UTXO.
	addr, err := btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(witnessScript), &chaincfg.TestNet3Params,
	)
	if err != nil {
		return err
	}

	utxoAmount := int64(999799)
	utxoPkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	// Our test spend is a 1-input 1-output transaction. The input spends
	// the miniscript UTXO. The output is an arbitrary output - we use a
	// OP_RETURN burn output.
	burnPkScript, err := txscript.NullDataScript(nil)
	if err != nil {
		return err
	}

	// Dummy prevout hash.
	hash, err := chainhash.NewHashFromStr(
		"000000000000000000000000000000000000000000000000000000000000" +
			"0000",
	)
	if err != nil {
		return err
	}
	txInput := wire.NewTxIn(&wire.OutPoint{Hash: *hash}, nil, nil)
	txInput.Sequence = sequence

	transaction := wire.MsgTx{
		Version: 2,
		TxIn:    []*wire.TxIn{txInput},
		TxOut: []*wire.TxOut{{
			Value:    utxoAmount - 200,
			PkScript: burnPkScript,
		}},
		LockTime: 0,
	}

	// We only have one input, for which we will execute the script.
	inputIndex := 0

	// We only have one input, so the previous outputs fetcher for the
	// transaction simply returns our UTXO. The previous output is needed as
	// it is signed as part of the transaction sighash for the input.
	previousOutputs := txscript.NewCannedPrevOutputFetcher(
		utxoPkScript, utxoAmount,
	)

	// Compute the signature hash to be signed for the first input:
	sigHashes := txscript.NewTxSigHashes(&transaction, previousOutputs)
	signatureHash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, &transaction,
		inputIndex, utxoAmount,
	)
	if err != nil {
		return err
	}

	// Construct a satisfaction (witness) from the miniscript.
	witness, err := node.Satisfy(&Satisfier{
		CheckOlder: func(lockTime uint32) (bool, error) {
			return CheckOlder(
				lockTime, uint32(transaction.Version),
				transaction.TxIn[inputIndex].Sequence,
			), nil
		},
		CheckAfter: func(lockTime uint32) (bool, error) {
			return CheckAfter(
				lockTime, transaction.LockTime,
				transaction.TxIn[inputIndex].Sequence,
			), nil
		},
		Sign: func(pubKey []byte) ([]byte, bool) {
			signature, available := sign(pubKey, signatureHash)
			if !available {
				return nil, false
			}
			signature = append(signature, byte(txscript.SigHashAll))
			return signature, true
		},
		Preimage: preimage,
	})
	if err != nil {
		return err
	}

	// Put the created witness into the transaction input, then execute the
	// script to test that the UTXO can be spent successfully.
	transaction.TxIn[inputIndex].Witness = append(witness, witnessScript)
	engine, err := txscript.NewEngine(
		utxoPkScript, &transaction, inputIndex,
		txscript.StandardVerifyFlags, nil, sigHashes, utxoAmount,
		previousOutputs,
	)
	if err != nil {
		return err
	}
	err = engine.Execute()
	if err != nil {
		return err
	}

	var rawTx bytes.Buffer
	err = transaction.Serialize(&rawTx)
	require.NoError(t, err)
	t.Logf("Raw witness: %x", [][]byte(witness))
	t.Logf("Raw transaction: %x", rawTx.Bytes())
	return nil
}

type redeemTestCase struct {
	miniscript  string
	comment     string
	valid       bool
	sequence    uint32
	canSign1    bool
	canSign2    bool
	canSign3    bool
	hasPreimage bool
}

// TestRedeem tests that the script generated from a miniscript can be spent
// successfully.
func TestRedeem(t *testing.T) {
	t.Parallel()

	privKey1, pubKey1 := btcec.PrivKeyFromBytes(
		chainhash.HashB([]byte("test key 1")),
	)
	privKey2, pubKey2 := btcec.PrivKeyFromBytes(
		chainhash.HashB([]byte("test key 2")),
	)
	privKey3, pubKey3 := btcec.PrivKeyFromBytes(
		chainhash.HashB([]byte("test key 3")),
	)
	preimageBytes := bytes.Repeat([]byte{0x11}, 32)
	sha256Hash := hex.EncodeToString(chainhash.HashB(preimageBytes))

	lookupVar := func(identifier string) ([]byte, error) {
		switch identifier {
		case "key_1":
			return pubKey1.SerializeCompressed(), nil
		case "key_2":
			return pubKey2.SerializeCompressed(), nil
		case "key_3":
			return pubKey3.SerializeCompressed(), nil
		}
		return nil, nil
	}

	sign := func(canSign1, canSign2, canSign3 bool) testSignFn {
		return func(pk []byte, hash []byte) ([]byte, bool) {
			if canSign1 &&
				bytes.Equal(pk, pubKey1.SerializeCompressed()) {

				return ecdsa.Sign(privKey1, hash).Serialize(),
					true
			}
			if canSign2 &&
				bytes.Equal(pk, pubKey2.SerializeCompressed()) {

				return ecdsa.Sign(privKey2, hash).Serialize(),
					true
			}
			if canSign3 &&
				bytes.Equal(pk, pubKey3.SerializeCompressed()) {

				return ecdsa.Sign(privKey3, hash).Serialize(),
					true
			}
			return nil, false
		}
	}

	preimage := func(hasPreimage bool) PreimageFunc {
		return func(hashFunc string, hash []byte) ([]byte, bool) {
			if !hasPreimage {
				return nil, false
			}

			switch hashFunc {
			case "ripemd160":
				h := btcutil.Hash160(preimageBytes)
				return preimageBytes, bytes.Equal(hash, h)

			case "sha256":
				h := chainhash.HashB(preimageBytes)
				return preimageBytes, bytes.Equal(hash, h)
			}

			return nil, false
		}
	}

	testCases := []redeemTestCase{
		{
			miniscript: "pk(key_1)",
			comment:    "single signature",
			valid:      true,
			canSign1:   true,
		},
		{
			miniscript: "pk(key_1)",
			comment:    "single signature, key unavailable",
			valid:      false,
		},
		{
			miniscript: "and_v(v:pk(key_1),pk(key_2))",
			comment:    "both signatures",
			valid:      true,
			canSign1:   true,
			canSign2:   true,
		},
		{
			miniscript: "and_v(v:pk(key_1),pk(key_2))",
			comment:    "second signature missing",
			valid:      false,
			canSign1:   true,
		},
		{
			miniscript: "or_b(pk(key_1),s:pk(key_2))",
			comment:    "boolean or, first branch",
			valid:      true,
			canSign1:   true,
		},
		{
			miniscript: "or_b(pk(key_1),s:pk(key_2))",
			comment:    "boolean or, second branch",
			valid:      true,
			canSign2:   true,
		},
		{
			miniscript: "and_b(pk(key_1),a:pk(key_2))",
			comment:    "boolean and",
			valid:      true,
			canSign1:   true,
			canSign2:   true,
		},
		{
			miniscript: "multi(2,key_1,key_2,key_3)",
			comment:    "2-of-3 threshold multisig",
			valid:      true,
			canSign1:   true,
			canSign3:   true,
		},
		{
			miniscript: "multi(2,key_1,key_2,key_3)",
			comment:    "2-of-3 threshold multisig, one signer",
			valid:      false,
			canSign2:   true,
		},
		{
			miniscript: "thresh(2,pk(key_1),s:pk(key_2)," +
				"s:pk(key_3))",
			comment:  "generic threshold",
			valid:    true,
			canSign1: true,
			canSign2: true,
		},
		{
			miniscript: "andor(pk(key_1),pk(key_2),pk(key_3))",
			comment:    "andor, primary path",
			valid:      true,
			canSign1:   true,
			canSign2:   true,
		},
		{
			miniscript: "andor(pk(key_1),pk(key_2),pk(key_3))",
			comment:    "andor, fallback path",
			valid:      true,
			canSign3:   true,
		},
		{
			miniscript: "or_d(pk(key_1)," +
				"and_v(v:pk(key_2),older(144)))",
			comment:  "timelocked fallback, sequence mature",
			valid:    true,
			sequence: 144,
			canSign2: true,
		},
		{
			miniscript: "or_d(pk(key_1)," +
				"and_v(v:pk(key_2),older(144)))",
			comment:  "timelocked fallback, sequence too low",
			valid:    false,
			sequence: 100,
			canSign2: true,
		},
		{
			miniscript: fmt.Sprintf(
				"and_v(v:pk(key_1),sha256(%s))", sha256Hash,
			),
			comment:     "signature plus hash preimage",
			valid:       true,
			canSign1:    true,
			hasPreimage: true,
		},
		{
			miniscript: fmt.Sprintf(
				"and_v(v:pk(key_1),sha256(%s))", sha256Hash,
			),
			comment:  "preimage missing",
			valid:    false,
			canSign1: true,
		},
	}

	for _, tc := range testCases {
		t.Logf("-----------------------------------")
		t.Logf("Test case: %s", tc.comment)
		t.Logf("-----------------------------------")

		err := testRedeem(
			t, tc.miniscript, lookupVar, tc.sequence,
			sign(tc.canSign1, tc.canSign2, tc.canSign3),
			preimage(tc.hasPreimage),
		)

		if !tc.valid {
			require.Errorf(
				t, err, "comment: %s, miniscript: %s",
				tc.comment, tc.miniscript,
			)

			continue
		}

		require.NoErrorf(
			t, err, "comment: %s, miniscript: %s", tc.comment,
			tc.miniscript,
		)
	}
}

// TestComputeOpCount tests that the maxOpCount function returns the correct
// number of operations.
func TestComputeOpCount(t *testing.T) {
	testCases := []struct {
		script     string
		maxOpCount int
	}{
		{
			script: "or_i(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))",
			maxOpCount: 9,
		},
		{
			script: "thresh(2,or_i(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))," +
				"s:pk(key8),s:pk(key9))",
			maxOpCount: 16,
		},
		{
			script: "thresh(2,or_d(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))," +
				"s:pk(key8),s:pk(key9))",
			maxOpCount: 19,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(SegwitV0, tc.script)
		require.NoError(t, err)
		require.Equal(t, tc.maxOpCount, node.maxOpCount())
	}
}

// TestForEachKey checks traversal and its short-circuit behavior.
func TestForEachKey(t *testing.T) {
	t.Parallel()

	node, err := Parse(SegwitV0, "multi(2,key_1,key_2,key_3)")
	require.NoError(t, err)
	require.NoError(t, applyTestKeys(node))

	var keys [][]byte
	complete := node.ForEachKey(func(key []byte) bool {
		keys = append(keys, key)
		return true
	})
	require.True(t, complete)
	require.Len(t, keys, 3)

	count := 0
	complete = node.ForEachKey(func(key []byte) bool {
		count++
		return count < 2
	})
	require.False(t, complete)
	require.Equal(t, 2, count)
}

// TestTranslateKeys checks structure-preserving key substitution.
func TestTranslateKeys(t *testing.T) {
	t.Parallel()

	node, err := Parse(SegwitV0, "and_v(v:pk(key_1),pk(key_2))")
	require.NoError(t, err)
	require.NoError(t, applyTestKeys(node))

	translated, err := node.TranslateKeys(&offsetTranslator{offset: 1})
	require.NoError(t, err)

	// The original is untouched and the copy carries translated keys.
	var origKeys, newKeys [][]byte
	node.ForEachKey(func(key []byte) bool {
		origKeys = append(origKeys, key)
		return true
	})
	translated.ForEachKey(func(key []byte) bool {
		newKeys = append(newKeys, key)
		return true
	})
	require.Len(t, newKeys, len(origKeys))
	for i := range origKeys {
		require.NotEqual(t, origKeys[i], newKeys[i])
		require.Equal(t, origKeys[i][1:], newKeys[i][1:])
	}
}

// offsetTranslator flips the parity byte of each key, keeping the length.
type offsetTranslator struct {
	offset byte
}

func (o *offsetTranslator) TranslateKey(key []byte) ([]byte, error) {
	translated := append([]byte(nil), key...)
	translated[0] ^= o.offset
	return translated, nil
}

func (o *offsetTranslator) TranslateKeyHash(hash []byte) ([]byte, error) {
	return hash, nil
}
