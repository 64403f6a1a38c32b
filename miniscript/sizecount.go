package miniscript

import (
	"errors"
	"fmt"
)

const (
	// maxSigPushSize is the worst case size of an ECDSA signature witness
	// element including its one byte length prefix: 72 bytes of DER plus
	// the sighash type byte.
	maxSigPushSize = 74

	// emptyPushSize is the size of an empty witness element, i.e. just the
	// length prefix.
	emptyPushSize = 1

	// onePushSize is the size of the witness element 0x01 including its
	// length prefix.
	onePushSize = 2

	// preimagePushSize is the size of a 32 byte hash preimage element
	// including its length prefix.
	preimagePushSize = 33
)

// satCost tracks the worst case cost of satisfying (or dissatisfying) a node:
// the number of witness stack elements and their total serialized size
// including the per-element length prefixes.
type satCost struct {
	valid    bool
	elements int
	size     int
}

func (c satCost) and(b satCost) satCost {
	if !c.valid || !b.valid {
		return satCost{}
	}
	return satCost{
		valid:    true,
		elements: c.elements + b.elements,
		size:     c.size + b.size,
	}
}

func (c satCost) or(b satCost) satCost {
	if !c.valid {
		return b
	}
	if !b.valid {
		return c
	}
	// Worst case estimate, keep the more expensive one.
	if c.size >= b.size {
		return c
	}
	return b
}

type satSizes struct {
	dsat, sat satCost
}

// computeSatSize computes the worst case satisfaction cost of each node,
// mirroring the witness construction of solve().
func computeSatSize(node *AST) (*AST, error) {
	zero := satCost{valid: true, elements: 1, size: emptyPushSize}
	one := satCost{valid: true, elements: 1, size: onePushSize}
	empty := satCost{valid: true}
	invalid := satCost{}
	sig := satCost{valid: true, elements: 1, size: maxSigPushSize}

	keyPush := func(arg *AST) satCost {
		size := node.ctx.keyPushLen()
		if arg.value != nil {
			size = 1 + len(arg.value)
		}
		return satCost{valid: true, elements: 1, size: size}
	}

	switch node.identifier {
	case f_0:
		node.satSize = satSizes{empty, invalid}

	case f_1:
		node.satSize = satSizes{invalid, empty}

	case f_pk_k:
		node.satSize = satSizes{zero, sig}

	case f_pk_h:
		key := keyPush(node.args[0])
		node.satSize = satSizes{zero.and(key), sig.and(key)}

	case f_older, f_after:
		node.satSize = satSizes{invalid, empty}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		preimage := satCost{
			valid:    true,
			elements: 1,
			size:     preimagePushSize,
		}
		node.satSize = satSizes{preimage, preimage}

	case f_andor:
		x, y, z := node.args[0], node.args[1], node.args[2]
		node.satSize = satSizes{
			z.satSize.dsat.and(x.satSize.dsat).or(
				y.satSize.dsat.and(x.satSize.sat),
			),
			y.satSize.sat.and(x.satSize.sat).or(
				z.satSize.sat.and(x.satSize.dsat),
			),
		}

	case f_and_v:
		x, y := node.args[0], node.args[1]
		node.satSize = satSizes{
			y.satSize.dsat.and(x.satSize.sat),
			y.satSize.sat.and(x.satSize.sat),
		}

	case f_and_b:
		x, y := node.args[0], node.args[1]
		node.satSize = satSizes{
			y.satSize.dsat.and(x.satSize.dsat).or(
				y.satSize.sat.and(x.satSize.dsat),
			).or(
				y.satSize.dsat.and(x.satSize.sat),
			),
			y.satSize.sat.and(x.satSize.sat),
		}

	case f_or_b:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			z.satSize.dsat.and(x.satSize.dsat),
			z.satSize.dsat.and(x.satSize.sat).or(
				z.satSize.sat.and(x.satSize.dsat),
			),
		}

	case f_or_c:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			invalid,
			x.satSize.sat.or(z.satSize.sat.and(x.satSize.dsat)),
		}

	case f_or_d:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			z.satSize.dsat.and(x.satSize.dsat),
			x.satSize.sat.or(z.satSize.sat.and(x.satSize.dsat)),
		}

	case f_or_i:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			x.satSize.dsat.and(one).or(z.satSize.dsat.and(zero)),
			x.satSize.sat.and(one).or(z.satSize.sat.and(zero)),
		}

	case f_thresh:
		k := node.args[0].num
		n := len(node.args) - 1

		dsat := empty
		for _, arg := range node.args[1:] {
			dsat = dsat.and(arg.satSize.dsat)
		}
		sat := invalid
		for _, subset := range chooseK(n, int(k)) {
			candidate := empty
			for i, arg := range node.args[1:] {
				if inSubset(subset, i) {
					candidate = arg.satSize.sat.and(
						candidate,
					)
				} else {
					candidate = arg.satSize.dsat.and(
						candidate,
					)
				}
			}
			sat = sat.or(candidate)
		}
		node.satSize = satSizes{dsat, sat}

	case f_multi:
		k := int(node.args[0].num)
		node.satSize = satSizes{
			satCost{
				valid:    true,
				elements: k + 1,
				size:     (k + 1) * emptyPushSize,
			},
			satCost{
				valid:    true,
				elements: k + 1,
				size:     emptyPushSize + k*maxSigPushSize,
			},
		}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		node.satSize = node.args[0].satSize

	case f_wrap_d:
		x := node.args[0]
		node.satSize = satSizes{zero, x.satSize.sat.and(one)}

	case f_wrap_v:
		x := node.args[0]
		node.satSize = satSizes{invalid, x.satSize.sat}

	case f_wrap_j:
		x := node.args[0]
		node.satSize = satSizes{zero, x.satSize.sat}

	default:
		return nil, fmt.Errorf("unknown identifier: %s",
			node.identifier)
	}

	return node, nil
}

// MaxSatisfactionSize returns the worst case size in bytes of a witness
// satisfying this expression, including the per-element length prefixes but
// excluding the witness script itself and the element count prefix.
func (a *AST) MaxSatisfactionSize() (int, error) {
	if !a.satSize.sat.valid {
		return 0, errors.New("no satisfaction exists")
	}
	return a.satSize.sat.size, nil
}

// MaxSatisfactionElements returns the worst case number of witness stack
// elements of a satisfaction, excluding the witness script itself.
func (a *AST) MaxSatisfactionElements() (int, error) {
	if !a.satSize.sat.valid {
		return 0, errors.New("no satisfaction exists")
	}
	return a.satSize.sat.elements, nil
}
