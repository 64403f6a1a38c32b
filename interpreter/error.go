package interpreter

import "errors"

var (
	// ErrNonEmptyWitness is returned when a spend shape that carries no
	// witness data arrives with a populated witness stack.
	ErrNonEmptyWitness = errors.New("unexpected non-empty witness")

	// ErrNonEmptyScriptSig is returned when a segwit spend shape arrives
	// with a populated scriptSig.
	ErrNonEmptyScriptSig = errors.New("unexpected non-empty scriptSig")

	// ErrUnexpectedStackEnd is returned when classification needs to pop
	// an element and the stack is empty.
	ErrUnexpectedStackEnd = errors.New("unexpected end of stack")

	// ErrExpectedPush is returned when a stack element that must be a
	// byte push is a sentinel instead.
	ErrExpectedPush = errors.New("expected push on stack")

	// ErrNonMinimalPush is returned when a scriptSig contains a push
	// that is not minimally encoded.
	ErrNonMinimalPush = errors.New("non-minimal push in scriptSig")

	// ErrPubkeyParse is returned when bytes expected to be a public key
	// do not decode as one.
	ErrPubkeyParse = errors.New("could not parse public key")

	// ErrXOnlyPubkeyParse is returned when bytes expected to be an
	// x-only public key do not decode as one.
	ErrXOnlyPubkeyParse = errors.New("could not parse x-only public key")

	// ErrUncompressedPubkey is returned when a segwit spend shape
	// carries an uncompressed public key.
	ErrUncompressedPubkey = errors.New("uncompressed public key in " +
		"segwit spend")

	// ErrIncorrectPubkeyHash is returned when the key popped from the
	// scriptSig does not hash to the p2pkh commitment.
	ErrIncorrectPubkeyHash = errors.New("public key does not match " +
		"p2pkh hash")

	// ErrIncorrectWPubkeyHash is returned when the key popped from the
	// witness does not hash to the p2wpkh commitment.
	ErrIncorrectWPubkeyHash = errors.New("public key does not match " +
		"p2wpkh hash")

	// ErrIncorrectScriptHash is returned when the redeem script does not
	// hash to the p2sh commitment.
	ErrIncorrectScriptHash = errors.New("redeem script does not match " +
		"p2sh hash")

	// ErrIncorrectWScriptHash is returned when the witness script does
	// not hash to the p2wsh commitment.
	ErrIncorrectWScriptHash = errors.New("witness script does not " +
		"match p2wsh hash")

	// ErrControlBlockParse is returned when the taproot control block
	// cannot be decoded.
	ErrControlBlockParse = errors.New("could not parse taproot control " +
		"block")

	// ErrControlBlockVerification is returned when the control block
	// does not commit the revealed script to the output key.
	ErrControlBlockVerification = errors.New("taproot control block " +
		"verification failed")

	// ErrTapAnnexUnsupported is returned for any taproot witness
	// carrying an annex. The annex changes the sighash in ways this
	// interpreter does not model, so such spends are rejected outright.
	ErrTapAnnexUnsupported = errors.New("taproot annex not supported")
)
