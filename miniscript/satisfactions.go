package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignFunc returns a signature for a pubkey, or false if no signer is
// available for it. The key is serialized in the encoding of the script
// context the expression was parsed under.
type SignFunc func(pubKey []byte) (signature []byte, available bool)

// PreimageFunc returns the preimage of a hash value, or false if it is not
// known.
type PreimageFunc func(hashFunc string, hash []byte) (preimage []byte,
	available bool)

// Satisfier supplies the secrets and transaction facts needed to build a
// witness: signatures for pubkeys, preimages for hash values and the state of
// the transaction timelocks.
type Satisfier struct {
	// CheckOlder reports whether an OP_CHECKSEQUENCEVERIFY for this lock
	// time value passes in the spending transaction. The CheckOlder
	// package function implements the BIP68 comparison.
	CheckOlder func(lockTime uint32) (bool, error)

	// CheckAfter reports whether an OP_CHECKLOCKTIMEVERIFY for this lock
	// time value passes in the spending transaction. The CheckAfter
	// package function implements the BIP65 comparison.
	CheckAfter func(lockTime uint32) (bool, error)

	// Sign returns a signature for the pubkey, or false if no signer is
	// available.
	Sign SignFunc

	// Preimage returns the preimage of the hash value. hashFunc is one of
	// "sha256", "ripemd160", "hash256", "hash160".
	Preimage PreimageFunc

	// PubKey returns the public key matching a 20 byte key hash. It is
	// only consulted for pk_h nodes of expressions decoded from raw
	// script, where the hash is all the expression knows. Optional.
	PubKey func(pkHash []byte) (pubKey []byte, available bool)
}

// solution is a candidate witness for one node, together with the flags that
// drive the non-malleability analysis. It corresponds to an input stack in
// the sense of Bitcoin Core's miniscript satisfier.
type solution struct {
	// witness is the list of elements to push onto the witness stack.
	witness wire.TxWitness

	// available is false when no valid witness exists at all: a private
	// key or preimage is missing, a timelock has not matured, or the node
	// cannot be satisfied (or dissatisfied) by construction.
	available bool

	// malleable marks a witness a third party could alter without
	// invalidating the spend.
	malleable bool

	// hasSig marks a witness that carries a signature. A signature pins
	// the witness for outsiders; a malleable witness with hasSig set can
	// only be malleated by the key holders themselves.
	hasSig bool
}

func (s *solution) markAvailable(available bool) *solution {
	s.available = available
	return s
}

func (s *solution) markMalleable(malleable bool) *solution {
	s.malleable = malleable
	return s
}

func (s *solution) requiresSig() *solution {
	s.hasSig = true
	return s
}

// concat joins the witnesses of two solutions that must both hold. Flags
// combine pessimistically: missing either side makes the pair unavailable,
// malleability and signatures on either side carry over.
func (s *solution) concat(b *solution) *solution {
	witness := append(wire.TxWitness{}, s.witness...)
	return &solution{
		witness:   append(witness, b.witness...),
		available: s.available && b.available,
		malleable: s.malleable || b.malleable,
		hasSig:    s.hasSig || b.hasSig,
	}
}

// choose picks between two alternative solutions for the same node:
// available beats unavailable, signature-free beats signature-backed (the
// holder of one signature must not be able to block the other path), then
// non-malleable beats malleable, then the smaller witness wins. Two
// signature-free alternatives mean a third party could swap one for the
// other, so both become malleable before the size comparison.
func (s *solution) choose(b *solution) *solution {
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}

	switch {
	case !s.hasSig && b.hasSig:
		return s

	case s.hasSig && !b.hasSig:
		return b

	case !s.hasSig && !b.hasSig:
		s.malleable = true
		b.malleable = true

	default:
		if b.malleable && !s.malleable {
			return s
		}
		if s.malleable && !b.malleable {
			return b
		}
	}

	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

// solutions holds the two ways a node can be consumed: the dissatisfying and
// the satisfying witness.
type solutions struct {
	dsat, sat *solution
}

// Solution constructors. An empty data push encodes OP_0 on the witness
// stack, so pushZero is the canonical dissatisfaction element.
func pushZero() *solution {
	return &solution{witness: wire.TxWitness{{}}, available: true}
}

func pushOne() *solution {
	return &solution{witness: wire.TxWitness{{1}}, available: true}
}

func pushData(data []byte) *solution {
	return &solution{witness: wire.TxWitness{data}, available: true}
}

// noElements is an available solution contributing no witness elements.
func noElements() *solution {
	return &solution{witness: wire.TxWitness{}, available: true}
}

func noSolution() *solution {
	return &solution{}
}

// chooseK returns every k element subset of {0, ..., n-1} as a list of
// ascending indices.
func chooseK(n int, k int) [][]int {
	var result [][]int
	var build func(start int, picked []int)
	build = func(start int, picked []int) {
		if len(picked) == k {
			result = append(result, append([]int(nil), picked...))
			return
		}
		for i := start; i <= n-(k-len(picked)); i++ {
			build(i+1, append(picked, i))
		}
	}
	build(0, nil)
	return result
}

func inSubset(subset []int, i int) bool {
	for _, el := range subset {
		if el == i {
			return true
		}
	}
	return false
}

// lockTimeMatches reports whether a required lock time value is met by the
// transaction's value. Block-height and timestamp locks live on opposite
// sides of the threshold and never compare against each other.
func lockTimeMatches(txValue uint32, threshold uint32, required uint32) bool {
	if (txValue < threshold) != (required < threshold) {
		return false
	}
	return required <= txValue
}

// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY (BIP112, BIP68) call is
// satisfied given the lock time value.
//
// txVersion is the version of the transaction being signed.
// OP_CHECKSEQUENCEVERIFY requires this to be at least 2, otherwise the script
// fails.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. It is compared to the lock time value.
func CheckOlder(lockTime uint32, txVersion uint32,
	txInputSequence uint32) bool {

	// See BIP68. Mask off non-consensus bits before doing comparisons.
	lockTimeMask := uint32(
		wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask,
	)
	return txInputSequence&wire.SequenceLockTimeDisabled == 0 &&
		txVersion >= 2 && lockTimeMatches(
		txInputSequence&lockTimeMask,
		wire.SequenceLockTimeIsSeconds,
		lockTime&lockTimeMask,
	)
}

// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY (BIP65) call is satisfied
// given the lock time value.
//
// txLockTime is the nLockTime of the transaction that is being signed. It is
// compared to the lock time value.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. According to BIP65, it must be smaller than 0xFFFFFFFF
// (maximum value) for this OP-code to not abort.
func CheckAfter(value uint32, txLockTime uint32, txInputSequence uint32) bool {
	return txInputSequence != wire.MaxTxInSequenceNum &&
		lockTimeMatches(txLockTime, txscript.LockTimeThreshold, value)
}

// solveKey builds the solutions of a pk_k node: dissatisfy with an empty
// push, satisfy with a signature.
func solveKey(node *AST, satisfier *Satisfier) (*solutions, error) {
	arg := node.args[0]
	if arg.value == nil {
		return nil, fmt.Errorf("empty key for %s (%s)",
			node.identifier, arg.identifier)
	}
	sig, available := satisfier.Sign(arg.value)
	return &solutions{
		dsat: pushZero(),
		sat:  pushData(sig).requiresSig().markAvailable(available),
	}, nil
}

// solveKeyHash builds the solutions of a pk_h node. Both branches must
// reveal the key; trees decoded from raw script only carry the 20 byte hash
// and resolve the full key through the satisfier's PubKey lookup.
func solveKeyHash(node *AST, satisfier *Satisfier) (*solutions, error) {
	arg := node.args[0]
	key := arg.value
	if key == nil {
		return nil, fmt.Errorf("empty key for %s (%s)",
			node.identifier, arg.identifier)
	}
	if len(key) == hash160Len {
		var available bool
		if satisfier.PubKey != nil {
			key, available = satisfier.PubKey(key)
		}
		if !available {
			return &solutions{
				dsat: noSolution(),
				sat:  noSolution(),
			}, nil
		}
	}
	sig, available := satisfier.Sign(key)
	return &solutions{
		dsat: pushZero().concat(pushData(key)),
		sat: pushData(sig).markAvailable(available).concat(
			pushData(key),
		),
	}, nil
}

// solveTimeLock builds the solutions of an older/after node. A timelock has
// no dissatisfaction; whether the satisfaction exists depends on the spending
// transaction, reported through the satisfier's lock time checks.
func solveTimeLock(node *AST, satisfier *Satisfier) (*solutions, error) {
	check := satisfier.CheckOlder
	if node.identifier == f_after {
		check = satisfier.CheckAfter
	}
	matured, err := check(uint32(node.args[0].num))
	if err != nil {
		return nil, err
	}
	sat := noElements()
	if !matured {
		sat = noSolution()
	}
	return &solutions{dsat: noSolution(), sat: sat}, nil
}

// solveHashLock builds the solutions of a hash lock node. The standard
// dissatisfaction pushes 32 junk bytes, which anyone can swap for other junk.
func solveHashLock(node *AST, satisfier *Satisfier) (*solutions, error) {
	hashValue := node.args[0].value
	if hashValue == nil {
		return nil, fmt.Errorf("hash value empty for %s (%s)",
			node.identifier, node.args[0].identifier)
	}
	preimage, available := satisfier.Preimage(node.identifier, hashValue)
	if available && len(preimage) != 32 {
		return nil, fmt.Errorf("length of %s preimage of %x expected "+
			"to be 32, got %d", node.identifier, hashValue,
			len(preimage))
	}
	return &solutions{
		// The all-zero preimage is assumed invalid.
		dsat: pushData(make([]byte, 32)).markMalleable(true),
		sat:  pushData(preimage).markAvailable(available),
	}, nil
}

// solveThresh builds the solutions of a thresh node: exactly k satisfied
// subexpressions satisfy, any other count dissatisfies.
func solveThresh(node *AST, satisfier *Satisfier) (*solutions, error) {
	k := node.args[0].num
	n := len(node.args) - 1
	subs := make([]*solutions, n)
	for i, arg := range node.args[1:] {
		sub, err := solve(arg, satisfier)
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}

	dsat := noSolution()
	sat := noSolution()

	// TODO: make more efficient, this is a naive implementation that has
	// 2^n loop iterations.
	for ks := 0; ks < n; ks++ {
		for _, subset := range chooseK(n, ks) {
			// The witness concatenates all subexpressions, ks of
			// them satisfied and n-ks dissatisfied.
			candidate := noElements()
			for i := 0; i < n; i++ {
				if inSubset(subset, i) {
					candidate = subs[i].sat.concat(
						candidate,
					)
				} else {
					candidate = subs[i].dsat.concat(
						candidate,
					)
				}
			}
			if ks == int(k) {
				sat = sat.choose(candidate)
			} else {
				dsat = dsat.choose(candidate)
			}
		}
	}
	return &solutions{dsat: dsat, sat: sat}, nil
}

// solveMulti builds the solutions of a multi node. The dissatisfaction is
// k+1 empty pushes (one per expected signature plus the CHECKMULTISIG dummy
// element); the satisfaction picks the best available k-subset of signers.
func solveMulti(node *AST, satisfier *Satisfier) (*solutions, error) {
	k := node.args[0].num
	n := len(node.args) - 1
	dsat := pushZero()
	for i := uint64(0); i < k; i++ {
		dsat = dsat.concat(pushZero())
	}

	// Collect the signatures that are actually available, leaving gaps
	// for missing signers.
	sigs := make([][]byte, n)
	for i, arg := range node.args[1:] {
		if arg.value == nil {
			return nil, fmt.Errorf("empty key for %s (%s)",
				node.identifier, arg.identifier)
		}
		if sig, available := satisfier.Sign(arg.value); available {
			sigs[i] = sig
		}
	}

	sat := noSolution()

	// TODO: make more efficient, this is a naive implementation that has
	// (n choose k) loop iterations.
	for _, subset := range chooseK(n, int(k)) {
		// Candidate satisfaction for one subset of signers:
		// `sig sig sig ...` in key order.
		candidate := noElements()
		for _, i := range subset {
			candidate = candidate.concat(
				pushData(sigs[i]).requiresSig().markAvailable(
					len(sigs[i]) > 0,
				),
			)
		}
		sat = sat.choose(candidate)
	}
	return &solutions{
		dsat: dsat,
		sat:  pushZero().concat(sat), // 0 sig sig sig ...
	}, nil
}

// solve computes the dissatisfying and satisfying witnesses of a node
// bottom-up. The algebra follows ProduceInput() of Bitcoin Core's miniscript
// satisfier.
func solve(node *AST, satisfier *Satisfier) (*solutions, error) {
	switch node.identifier {
	case f_0:
		return &solutions{dsat: noElements(), sat: noSolution()}, nil

	case f_1:
		return &solutions{dsat: noSolution(), sat: noElements()}, nil

	case f_pk_k:
		return solveKey(node, satisfier)

	case f_pk_h:
		return solveKeyHash(node, satisfier)

	case f_older, f_after:
		return solveTimeLock(node, satisfier)

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		return solveHashLock(node, satisfier)

	case f_andor:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := solve(node.args[2], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: z.dsat.concat(x.dsat).choose(y.dsat.concat(x.sat)),
			sat:  y.sat.concat(x.sat).choose(z.sat.concat(x.dsat)),
		}, nil

	case f_and_v:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: y.dsat.concat(x.sat),
			sat:  y.sat.concat(x.sat),
		}, nil

	case f_and_b:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: y.dsat.concat(x.dsat).choose(
				y.sat.concat(x.dsat).markMalleable(true),
			).choose(
				y.dsat.concat(x.sat).markMalleable(true),
			),
			sat: y.sat.concat(x.sat),
		}, nil

	case f_or_b:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: z.dsat.concat(x.dsat),
			sat: z.dsat.concat(x.sat).choose(
				z.sat.concat(x.dsat),
			).choose(
				z.sat.concat(x.sat).markMalleable(true),
			),
		}, nil

	case f_or_c:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: noSolution(),
			sat:  x.sat.choose(z.sat.concat(x.dsat)),
		}, nil

	case f_or_d:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: z.dsat.concat(x.dsat),
			sat:  x.sat.choose(z.sat.concat(x.dsat)),
		}, nil

	case f_or_i:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := solve(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: x.dsat.concat(pushOne()).choose(
				z.dsat.concat(pushZero()),
			),
			sat: x.sat.concat(pushOne()).choose(
				z.sat.concat(pushZero()),
			),
		}, nil

	case f_thresh:
		return solveThresh(node, satisfier)

	case f_multi:
		return solveMulti(node, satisfier)

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		return solve(node.args[0], satisfier)

	case f_wrap_d:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: pushZero(),
			sat:  x.sat.concat(pushOne()),
		}, nil

	case f_wrap_v:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{dsat: noSolution(), sat: x.sat}, nil

	case f_wrap_j:
		x, err := solve(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &solutions{
			dsat: pushZero().markMalleable(
				x.dsat.available && !x.dsat.hasSig,
			),
			sat: x.sat,
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized identifier: %s",
			node.identifier)
	}
}
