package interpreter

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/AreaLayer/elements-miniscript/descriptor"
	"github.com/AreaLayer/elements-miniscript/miniscript"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testPrivKey(name string) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(name)))
	return priv
}

func testPubKey(name string) []byte {
	return testPrivKey(name).PubKey().SerializeCompressed()
}

func testSig(index byte) []byte {
	sig := bytes.Repeat([]byte{index}, 71)
	sig[0] = 0x30
	return sig
}

// parseMs parses an expression with hex encoded keys and resolves them.
func parseMs(t *testing.T, ctx *miniscript.Context,
	expr string) *miniscript.AST {

	t.Helper()
	ms, err := miniscript.Parse(ctx, expr)
	require.NoError(t, err)
	err = ms.ApplyVars(func(identifier string) ([]byte, error) {
		return nil, nil
	})
	require.NoError(t, err)
	return ms
}

func mustScript(t *testing.T, ms *miniscript.AST) []byte {
	t.Helper()
	script, err := ms.Script()
	require.NoError(t, err)
	return script
}

func p2wshScript(witnessScript []byte) []byte {
	return append(
		[]byte{txscript.OP_0, txscript.OP_DATA_32},
		chainhash.HashB(witnessScript)...,
	)
}

func p2shScript(redeemScript []byte) []byte {
	spk := append(
		[]byte{txscript.OP_HASH160, txscript.OP_DATA_20},
		btcutil.Hash160(redeemScript)...,
	)
	return append(spk, txscript.OP_EQUAL)
}

func pushAll(t *testing.T, elements ...[]byte) []byte {
	t.Helper()
	builder := txscript.NewScriptBuilder()
	for _, element := range elements {
		builder.AddData(element)
	}
	script, err := builder.Script()
	require.NoError(t, err)
	return script
}

func TestFromTxDataP2PK(t *testing.T) {
	for _, pubKey := range [][]byte{
		testPubKey("p2pk key"),
		testPrivKey("p2pk key").PubKey().SerializeUncompressed(),
	} {
		spk, err := txscript.NewScriptBuilder().
			AddData(pubKey).
			AddOp(txscript.OP_CHECKSIG).
			Script()
		require.NoError(t, err)

		inner, stack, scriptCode, err := FromTxData(
			spk, pushAll(t, testSig(1)), nil,
		)
		require.NoError(t, err)

		pk := inner.(*PublicKey)
		require.Equal(t, PubKeyTypePk, pk.Type)
		require.Equal(t, KeyTypeFull, pk.Key.Type)
		require.Equal(t, pubKey, pk.Key.Key)
		require.Equal(t, spk, scriptCode)

		require.Equal(t, 1, stack.Len())
		top, _ := stack.Top()
		require.Equal(t, testSig(1), top.Data)

		// A p2pk spend has no witness data.
		_, _, _, err = FromTxData(
			spk, pushAll(t, testSig(1)),
			wire.TxWitness{testSig(1)},
		)
		require.ErrorIs(t, err, ErrNonEmptyWitness)
	}
}

func TestFromTxDataP2PKH(t *testing.T) {
	pubKey := testPubKey("p2pkh key")
	spk := p2pkhScript(btcutil.Hash160(pubKey))

	inner, stack, scriptCode, err := FromTxData(
		spk, pushAll(t, testSig(1), pubKey), nil,
	)
	require.NoError(t, err)

	pk := inner.(*PublicKey)
	require.Equal(t, PubKeyTypePkh, pk.Type)
	require.Equal(t, pubKey, pk.Key.Key)
	require.Equal(t, spk, scriptCode)
	require.Equal(t, 1, stack.Len())

	// A key that does not hash to the commitment fails.
	_, _, _, err = FromTxData(
		spk, pushAll(t, testSig(1), testPubKey("other key")), nil,
	)
	require.ErrorIs(t, err, ErrIncorrectPubkeyHash)

	_, _, _, err = FromTxData(spk, nil, nil)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)
}

func TestFromTxDataP2WPKH(t *testing.T) {
	pubKey := testPubKey("p2wpkh key")
	keyHash := btcutil.Hash160(pubKey)
	spk := append([]byte{txscript.OP_0, txscript.OP_DATA_20}, keyHash...)

	inner, stack, scriptCode, err := FromTxData(
		spk, nil, wire.TxWitness{testSig(1), pubKey},
	)
	require.NoError(t, err)

	pk := inner.(*PublicKey)
	require.Equal(t, PubKeyTypeWpkh, pk.Type)
	require.Equal(t, pubKey, pk.Key.Key)

	// Sighashes for p2wpkh sign the p2pkh template, not the witness
	// program.
	require.Equal(t, p2pkhScript(keyHash), scriptCode)
	require.Equal(t, 1, stack.Len())

	// Uncompressed keys are invalid in segwit spends.
	uncompressed := testPrivKey(
		"p2wpkh uncompressed",
	).PubKey().SerializeUncompressed()
	uncompressedSpk := append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20},
		btcutil.Hash160(uncompressed)...,
	)
	_, _, _, err = FromTxData(
		uncompressedSpk, nil, wire.TxWitness{testSig(1), uncompressed},
	)
	require.ErrorIs(t, err, ErrUncompressedPubkey)

	// Segwit spends carry no scriptSig.
	_, _, _, err = FromTxData(
		spk, pushAll(t, testSig(1)), wire.TxWitness{testSig(1), pubKey},
	)
	require.ErrorIs(t, err, ErrNonEmptyScriptSig)
}

func TestFromTxDataP2WSH(t *testing.T) {
	key1 := hex.EncodeToString(testPubKey("wsh key 1"))
	key2 := hex.EncodeToString(testPubKey("wsh key 2"))
	expr := fmt.Sprintf("and_v(v:pk(%s),pk(%s))", key1, key2)
	witnessScript := mustScript(t, parseMs(t, miniscript.SegwitV0, expr))
	spk := p2wshScript(witnessScript)

	witness := wire.TxWitness{testSig(1), testSig(2), witnessScript}
	inner, stack, scriptCode, err := FromTxData(spk, nil, witness)
	require.NoError(t, err)

	script := inner.(*Script)
	require.Equal(t, ScriptTypeWsh, script.Type)
	require.Equal(t, expr, script.Ms.String())
	require.Equal(t, witnessScript, scriptCode)
	require.Equal(t, 2, stack.Len())

	// A witness script that does not hash to the program fails.
	otherScript := mustScript(t, parseMs(t, miniscript.SegwitV0,
		fmt.Sprintf("pk(%s)", key1)))
	_, _, _, err = FromTxData(
		spk, nil, wire.TxWitness{testSig(1), otherScript},
	)
	require.ErrorIs(t, err, ErrIncorrectWScriptHash)

	_, _, _, err = FromTxData(spk, pushAll(t, testSig(1)), witness)
	require.ErrorIs(t, err, ErrNonEmptyScriptSig)
}

func TestFromTxDataCovenant(t *testing.T) {
	bindKey := testPubKey("covenant binding key")
	innerKey := hex.EncodeToString(testPubKey("covenant inner key"))
	ms, err := miniscript.Parse(
		miniscript.SegwitV0, fmt.Sprintf("pk(%s)", innerKey),
	)
	require.NoError(t, err)
	require.NoError(t, ms.ApplyVars(func(string) ([]byte, error) {
		return nil, nil
	}))

	d, err := descriptor.NewCovenant(bindKey, ms)
	require.NoError(t, err)
	covScript := d.ExplicitScript()

	witness := wire.TxWitness{testSig(1), covScript}
	inner, stack, scriptCode, err := FromTxData(
		d.ScriptPubKey(), nil, witness,
	)
	require.NoError(t, err)

	cov := inner.(*CovScript)
	require.Equal(t, bindKey, cov.Key.Key)
	require.Equal(t, fmt.Sprintf("pk(%s)", innerKey), cov.Ms.String())
	require.Equal(t, descriptor.PostCodesepScriptCode(), scriptCode)
	require.Equal(t, 1, stack.Len())

	// Covenant recognition takes priority over the witness program hash
	// check: a covenant script behind a foreign program still classifies.
	foreignSpk := p2wshScript([]byte("not the covenant script"))
	inner, _, _, err = FromTxData(foreignSpk, nil, witness)
	require.NoError(t, err)
	require.IsType(t, (*CovScript)(nil), inner)
}

func TestFromTxDataP2SH(t *testing.T) {
	key1 := hex.EncodeToString(testPubKey("sh key 1"))
	redeemScript := mustScript(t, parseMs(t, miniscript.Legacy,
		fmt.Sprintf("pk(%s)", key1)))
	spk := p2shScript(redeemScript)

	inner, stack, scriptCode, err := FromTxData(
		spk, pushAll(t, testSig(1), redeemScript), nil,
	)
	require.NoError(t, err)

	script := inner.(*Script)
	require.Equal(t, ScriptTypeSh, script.Type)
	require.Equal(t, redeemScript, scriptCode)
	require.Equal(t, 1, stack.Len())

	// A redeem script that does not hash to the commitment fails.
	otherScript := mustScript(t, parseMs(t, miniscript.Legacy,
		fmt.Sprintf("pk(%s)",
			hex.EncodeToString(testPubKey("sh key 2")))))
	_, _, _, err = FromTxData(
		spk, pushAll(t, testSig(1), otherScript), nil,
	)
	require.ErrorIs(t, err, ErrIncorrectScriptHash)

	// Plain p2sh spends carry no witness data.
	_, _, _, err = FromTxData(
		spk, pushAll(t, testSig(1), redeemScript),
		wire.TxWitness{testSig(1)},
	)
	require.ErrorIs(t, err, ErrNonEmptyWitness)
}

func TestFromTxDataShWpkh(t *testing.T) {
	pubKey := testPubKey("sh-wpkh key")
	keyHash := btcutil.Hash160(pubKey)
	redeemScript := append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20}, keyHash...,
	)
	spk := p2shScript(redeemScript)

	inner, stack, scriptCode, err := FromTxData(
		spk, pushAll(t, redeemScript),
		wire.TxWitness{testSig(1), pubKey},
	)
	require.NoError(t, err)

	pk := inner.(*PublicKey)
	require.Equal(t, PubKeyTypeShWpkh, pk.Type)
	require.Equal(t, pubKey, pk.Key.Key)
	require.Equal(t, p2pkhScript(keyHash), scriptCode)
	require.Equal(t, 1, stack.Len())

	_, _, _, err = FromTxData(
		spk, pushAll(t, redeemScript),
		wire.TxWitness{testSig(1), testPubKey("wrong key")},
	)
	require.ErrorIs(t, err, ErrIncorrectWScriptHash)
}

func TestFromTxDataShWsh(t *testing.T) {
	key1 := hex.EncodeToString(testPubKey("sh-wsh key"))
	expr := fmt.Sprintf("pk(%s)", key1)
	witnessScript := mustScript(t, parseMs(t, miniscript.SegwitV0, expr))
	redeemScript := p2wshScript(witnessScript)
	spk := p2shScript(redeemScript)

	inner, stack, scriptCode, err := FromTxData(
		spk, pushAll(t, redeemScript),
		wire.TxWitness{testSig(1), witnessScript},
	)
	require.NoError(t, err)

	script := inner.(*Script)
	require.Equal(t, ScriptTypeShWsh, script.Type)
	require.Equal(t, expr, script.Ms.String())
	require.Equal(t, witnessScript, scriptCode)
	require.Equal(t, 1, stack.Len())
}

func TestFromTxDataTaproot(t *testing.T) {
	internalKey := testPrivKey("taproot internal key").PubKey()
	leafKey := schnorr.SerializePubKey(
		testPrivKey("taproot leaf key").PubKey(),
	)
	tapScript, err := txscript.NewScriptBuilder().
		AddData(leafKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	tapLeaf := txscript.NewBaseTapLeaf(tapScript)
	tapScriptTree := txscript.AssembleTaprootScriptTree(tapLeaf)
	rootHash := tapScriptTree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(
		internalKey, rootHash[:],
	)
	spk, err := txscript.PayToTaprootScript(outputKey)
	require.NoError(t, err)

	ctrlBlock := tapScriptTree.LeafMerkleProofs[0].ToControlBlock(
		internalKey,
	)
	ctrlBytes, err := ctrlBlock.ToBytes()
	require.NoError(t, err)

	schnorrSig := bytes.Repeat([]byte{0x77}, 64)

	t.Run("key spend", func(t *testing.T) {
		inner, stack, scriptCode, err := FromTxData(
			spk, nil, wire.TxWitness{schnorrSig},
		)
		require.NoError(t, err)

		pk := inner.(*PublicKey)
		require.Equal(t, PubKeyTypeTr, pk.Type)
		require.Equal(t, KeyTypeXOnly, pk.Key.Type)
		require.Equal(t, schnorr.SerializePubKey(outputKey), pk.Key.Key)

		// Key spends have no script code.
		require.Nil(t, scriptCode)
		require.Equal(t, 1, stack.Len())
	})

	t.Run("script spend", func(t *testing.T) {
		witness := wire.TxWitness{schnorrSig, tapScript, ctrlBytes}
		inner, stack, scriptCode, err := FromTxData(spk, nil, witness)
		require.NoError(t, err)

		script := inner.(*Script)
		require.Equal(t, ScriptTypeTr, script.Type)
		require.Equal(t, tapScript, scriptCode)
		require.Equal(t, 1, stack.Len())
	})

	t.Run("annex rejected", func(t *testing.T) {
		annex := []byte{taprootAnnexTag, 0x01}
		_, _, _, err := FromTxData(
			spk, nil, wire.TxWitness{schnorrSig, annex},
		)
		require.ErrorIs(t, err, ErrTapAnnexUnsupported)
	})

	t.Run("control block errors", func(t *testing.T) {
		_, _, _, err := FromTxData(spk, nil, wire.TxWitness{
			schnorrSig, tapScript, {0x00},
		})
		require.ErrorIs(t, err, ErrControlBlockParse)

		// A script that is not committed to by the output key fails
		// verification.
		otherScript, err := txscript.NewScriptBuilder().
			AddData(schnorr.SerializePubKey(
				testPrivKey("uncommitted leaf").PubKey(),
			)).
			AddOp(txscript.OP_CHECKSIG).
			Script()
		require.NoError(t, err)
		_, _, _, err = FromTxData(spk, nil, wire.TxWitness{
			schnorrSig, otherScript, ctrlBytes,
		})
		require.ErrorIs(t, err, ErrControlBlockVerification)
	})

	t.Run("scriptSig rejected", func(t *testing.T) {
		_, _, _, err := FromTxData(
			spk, pushAll(t, schnorrSig),
			wire.TxWitness{schnorrSig},
		)
		require.ErrorIs(t, err, ErrNonEmptyScriptSig)
	})
}

func TestFromTxDataBare(t *testing.T) {
	key1 := hex.EncodeToString(testPubKey("bare key 1"))
	key2 := hex.EncodeToString(testPubKey("bare key 2"))
	expr := fmt.Sprintf("and_v(v:pk(%s),pk(%s))", key1, key2)
	spk := mustScript(t, parseMs(t, miniscript.BareCtx, expr))

	inner, stack, scriptCode, err := FromTxData(
		spk, pushAll(t, testSig(1), testSig(2)), nil,
	)
	require.NoError(t, err)

	script := inner.(*Script)
	require.Equal(t, ScriptTypeBare, script.Type)
	require.Equal(t, expr, script.Ms.String())
	require.Equal(t, spk, scriptCode)
	require.Equal(t, 2, stack.Len())

	_, _, _, err = FromTxData(spk, nil, wire.TxWitness{testSig(1)})
	require.ErrorIs(t, err, ErrNonEmptyWitness)
}
