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

// shInner discriminates the redeem script kind of an Sh descriptor.
type shInner int

const (
	shPlain shInner = iota
	shWsh
	shWpkh
)

// Sh is a pay-to-script-hash descriptor. The redeem script is either a
// plain legacy miniscript, a nested p2wsh output or a nested p2wpkh output.
type Sh struct {
	inner shInner

	ms   *miniscript.AST // shPlain
	wsh  *Wsh            // shWsh
	wpkh *Wpkh           // shWpkh

	redeemScript []byte
	script       []byte
}

func newSh(inner shInner, ms *miniscript.AST, wsh *Wsh, wpkh *Wpkh,
	redeemScript []byte) (*Sh, error) {

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, err
	}
	return &Sh{
		inner:        inner,
		ms:           ms,
		wsh:          wsh,
		wpkh:         wpkh,
		redeemScript: redeemScript,
		script:       script,
	}, nil
}

// NewSh wraps a top level miniscript expression as a plain p2sh descriptor.
// The expression must be parsed under the legacy context, which caps the
// redeem script at 520 bytes.
func NewSh(ms *miniscript.AST) (*Sh, error) {
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	redeemScript, err := ms.Script()
	if err != nil {
		return nil, err
	}
	return newSh(shPlain, ms, nil, nil, redeemScript)
}

// NewShWsh nests a p2wsh descriptor inside p2sh.
func NewShWsh(wsh *Wsh) (*Sh, error) {
	return newSh(shWsh, nil, wsh, nil, wsh.ScriptPubKey())
}

// NewShWpkh nests a p2wpkh descriptor inside p2sh.
func NewShWpkh(wpkh *Wpkh) (*Sh, error) {
	return newSh(shWpkh, nil, nil, wpkh, wpkh.ScriptPubKey())
}

func shFromTree(node *tree) (*Sh, error) {
	// Nested expressions drop the chain prefix: the namespace applies to
	// the outermost name only.
	inner := node.args[0]
	switch {
	case inner.name == "wsh" && len(inner.args) == 1:
		ms, err := parseMiniscript(
			miniscript.SegwitV0, inner.args[0].raw,
		)
		if err != nil {
			return nil, err
		}
		wsh, err := NewWsh(ms)
		if err != nil {
			return nil, err
		}
		return NewShWsh(wsh)

	case inner.name == "wpkh" && len(inner.args) == 1:
		pubKey, err := parsePubKey(inner.args[0].raw)
		if err != nil {
			return nil, err
		}
		wpkh, err := NewWpkh(pubKey)
		if err != nil {
			return nil, err
		}
		return NewShWpkh(wpkh)

	default:
		ms, err := parseMiniscript(miniscript.Legacy, inner.raw)
		if err != nil {
			return nil, err
		}
		return NewSh(ms)
	}
}

// RedeemScript returns the script whose hash the output commits to.
func (s *Sh) RedeemScript() []byte {
	return s.redeemScript
}

// ScriptPubKey returns the p2sh output script.
func (s *Sh) ScriptPubKey() []byte {
	return s.script
}

// ExplicitScript returns the script that ends up being executed: the redeem
// script for plain and wpkh nested forms, the witness script for wsh.
func (s *Sh) ExplicitScript() []byte {
	if s.inner == shWsh {
		return s.wsh.ExplicitScript()
	}
	return s.redeemScript
}

// UnsignedScriptSig returns the redeem script push for nested segwit forms
// and an empty script otherwise.
func (s *Sh) UnsignedScriptSig() []byte {
	if s.inner == shPlain {
		return nil
	}
	return pushData(s.redeemScript)
}

// ScriptCode returns the script used for sighash computation.
func (s *Sh) ScriptCode() []byte {
	switch s.inner {
	case shWsh:
		return s.wsh.ScriptCode()
	case shWpkh:
		return s.wpkh.ScriptCode()
	default:
		return s.redeemScript
	}
}

// Address returns the p2sh address of the output.
func (s *Sh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressScriptHashFromHash(
		btcutil.Hash160(s.redeemScript), params,
	)
}

// MaxSatisfactionWeight returns the maximum weight of the spending scriptSig
// and witness combined.
func (s *Sh) MaxSatisfactionWeight() (int, error) {
	redeemPushLen := scriptPushLen(len(s.redeemScript))

	if s.inner == shPlain {
		maxSat, err := s.ms.MaxSatisfactionSize()
		if err != nil {
			return 0, err
		}
		scriptSigLen := maxSat + redeemPushLen
		return 4 * (varintLen(scriptSigLen) + scriptSigLen), nil
	}

	var (
		innerWeight int
		err         error
	)
	switch s.inner {
	case shWsh:
		innerWeight, err = s.wsh.MaxSatisfactionWeight()
	case shWpkh:
		innerWeight, err = s.wpkh.MaxSatisfactionWeight()
	}
	if err != nil {
		return 0, err
	}
	return 4*(varintLen(redeemPushLen)+redeemPushLen) + innerWeight, nil
}

// SanityCheck verifies the inner script or key.
func (s *Sh) SanityCheck() error {
	switch s.inner {
	case shWsh:
		return s.wsh.SanityCheck()
	case shWpkh:
		return s.wpkh.SanityCheck()
	default:
		return s.ms.IsSane()
	}
}

// Satisfaction produces the scriptSig and witness spending the output. The
// plain form carries everything in the scriptSig; the nested segwit forms
// push only the redeem script there and carry the rest in the witness.
func (s *Sh) Satisfaction(satisfier *Satisfier) (wire.TxWitness, []byte,
	error) {

	switch s.inner {
	case shWsh:
		witness, _, err := s.wsh.Satisfaction(satisfier)
		if err != nil {
			return nil, nil, err
		}
		return witness, pushData(s.redeemScript), nil

	case shWpkh:
		witness, _, err := s.wpkh.Satisfaction(satisfier)
		if err != nil {
			return nil, nil, err
		}
		return witness, pushData(s.redeemScript), nil

	default:
		witness, err := s.ms.Satisfy(&satisfier.Satisfier)
		if err != nil {
			return nil, nil, err
		}
		scriptSig, err := witnessToScriptSig(
			append(witness, s.redeemScript),
		)
		if err != nil {
			return nil, nil, err
		}
		return nil, scriptSig, nil
	}
}

// SatisfactionMalleable is like Satisfaction but also accepts malleable
// satisfaction paths.
func (s *Sh) SatisfactionMalleable(satisfier *Satisfier) (wire.TxWitness,
	[]byte, error) {

	switch s.inner {
	case shWsh:
		witness, _, err := s.wsh.SatisfactionMalleable(satisfier)
		if err != nil {
			return nil, nil, err
		}
		return witness, pushData(s.redeemScript), nil

	case shWpkh:
		witness, _, err := s.wpkh.SatisfactionMalleable(satisfier)
		if err != nil {
			return nil, nil, err
		}
		return witness, pushData(s.redeemScript), nil

	default:
		witness, err := s.ms.SatisfyMalleable(&satisfier.Satisfier)
		if err != nil {
			return nil, nil, err
		}
		scriptSig, err := witnessToScriptSig(
			append(witness, s.redeemScript),
		)
		if err != nil {
			return nil, nil, err
		}
		return nil, scriptSig, nil
	}
}

// ForEachKey calls fn for each public key in the descriptor.
func (s *Sh) ForEachKey(fn func(pubKey []byte) bool) bool {
	switch s.inner {
	case shWsh:
		return s.wsh.ForEachKey(fn)
	case shWpkh:
		return s.wpkh.ForEachKey(fn)
	default:
		return s.ms.ForEachKey(fn)
	}
}

// TranslateKeys returns a copy with every key mapped through the translator.
func (s *Sh) TranslateKeys(
	translator miniscript.KeyTranslator) (Descriptor, error) {

	switch s.inner {
	case shWsh:
		inner, err := s.wsh.TranslateKeys(translator)
		if err != nil {
			return nil, err
		}
		return NewShWsh(inner.(*Wsh))

	case shWpkh:
		inner, err := s.wpkh.TranslateKeys(translator)
		if err != nil {
			return nil, err
		}
		return NewShWpkh(inner.(*Wpkh))

	default:
		translated, err := s.ms.TranslateKeys(translator)
		if err != nil {
			return nil, err
		}
		return NewSh(translated)
	}
}

// String serializes the descriptor with its checksum tag.
func (s *Sh) String() string {
	var body string
	switch s.inner {
	case shWsh:
		body = fmt.Sprintf("%ssh(wsh(%s))", namespace,
			s.wsh.ms.String())
	case shWpkh:
		body = fmt.Sprintf("%ssh(wpkh(%s))", namespace,
			hex.EncodeToString(s.wpkh.pubKey))
	default:
		body = fmt.Sprintf("%ssh(%s)", namespace, s.ms.String())
	}
	return appendChecksum(body)
}
