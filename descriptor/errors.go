package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrBadChecksum is returned when a descriptor string carries a
	// checksum tag that does not match its body.
	ErrBadChecksum = errors.New("invalid descriptor checksum")

	// ErrBareDescriptorAddress is returned when an address is requested
	// for a bare descriptor. Raw script outputs have no address form.
	ErrBareDescriptorAddress = errors.New("bare descriptors have no " +
		"address")

	// ErrNotElements is returned when a descriptor string lacks the
	// chain namespace prefix.
	ErrNotElements = errors.New("not an elements descriptor")

	// ErrImpossibleSatisfaction is returned when a script cannot be
	// satisfied within the consensus op limit, or cannot be satisfied at
	// all.
	ErrImpossibleSatisfaction = errors.New("satisfaction impossible " +
		"within consensus limits")

	// ErrScriptSizeTooLarge is returned when the encoded script exceeds
	// the applicable script size ceiling.
	ErrScriptSizeTooLarge = errors.New("script size too large")

	// ErrBadCovenantDescriptor is returned when a script does not match
	// the covenant opcode preamble.
	ErrBadCovenantDescriptor = errors.New("script is not a covenant " +
		"descriptor")

	// ErrMissingCovSignature is returned when the satisfier cannot
	// produce a signature for the covenant binding key.
	ErrMissingCovSignature = errors.New("missing signature for covenant " +
		"key")

	// ErrCovenantSighashTypeMismatch is returned when the hash type
	// embedded in the covenant signature differs from the sighash type
	// item supplied for the witness.
	ErrCovenantSighashTypeMismatch = errors.New("covenant signature " +
		"hash type does not match supplied sighash type")
)

// MissingSignatureError is returned by satisfaction when no signature is
// available for a required key.
type MissingSignatureError struct {
	PubKey []byte
}

func (e *MissingSignatureError) Error() string {
	return fmt.Sprintf("missing signature for key %s",
		hex.EncodeToString(e.PubKey))
}

// sighashItemNames indexes the covenant sighash components in witness order.
var sighashItemNames = [...]string{
	1:  "nVersion",
	2:  "hashPrevouts",
	3:  "hashSequence",
	4:  "hashIssuances",
	5:  "outpoint",
	6:  "scriptCode",
	7:  "value",
	8:  "nSequence",
	9:  "outputs",
	10: "nLocktime",
	11: "sighashType",
}

// MissingSighashItemError is returned by covenant satisfaction when one of
// the eleven sighash components cannot be looked up. Index identifies the
// missing item, counted in witness order.
type MissingSighashItemError struct {
	Index int
}

func (e *MissingSighashItemError) Error() string {
	name := "unknown"
	if e.Index >= 1 && e.Index < len(sighashItemNames) {
		name = sighashItemNames[e.Index]
	}
	return fmt.Sprintf("missing sighash item %d (%s)", e.Index, name)
}

func missingSighashItem(index int) error {
	return &MissingSighashItemError{Index: index}
}
