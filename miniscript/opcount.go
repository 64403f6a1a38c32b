package miniscript

import "fmt"

// opCost is the number of execution ops charged along one spending branch, or
// invalid when the branch cannot be taken at all (a wrap_v has no
// dissatisfaction, a timelock no guaranteed satisfaction). Costs combine with
// add when both branches run and with worst when either one may.
type opCost struct {
	valid bool
	n     int
}

func opCostOf(n int) opCost {
	return opCost{valid: true, n: n}
}

func (c opCost) add(o opCost) opCost {
	if !c.valid || !o.valid {
		return opCost{}
	}
	return opCostOf(c.n + o.n)
}

func (c opCost) worst(o opCost) opCost {
	if !c.valid {
		return o
	}
	if !o.valid {
		return c
	}
	if c.n >= o.n {
		return c
	}
	return o
}

// opProfile is the op usage of a node under the pre-tapscript accounting
// rules: every non-push opcode in the script costs one op up front, and each
// OP_CHECKMULTISIG(VERIFY) costs one more op per participating key when
// executed. static is the up-front component; sat and dsat bound the per-key
// component for satisfying respectively dissatisfying the node.
//
// The profile is computed under every context so that MaxOpCount can always
// report it, but only contexts with checkOpLimit set hold it against
// maxOpsPerScript. Tapscript has no per-script op limit (it budgets by
// witness weight instead) and does not permit multi, so under Tap the static
// component is the whole story.
type opProfile struct {
	static int
	dsat   opCost
	sat    opCost
}

// computeOpCount fills in the op profile of a node from the profiles of its
// arguments. Runs after canCollapseVerify; wrap_v consults the collapse flag
// to know whether its OP_VERIFY fuses into the preceding opcode.
func computeOpCount(node *AST) (*AST, error) {
	free := opCostOf(0)
	never := opCost{}
	profile := func(static int, dsat, sat opCost) opProfile {
		return opProfile{static: static, dsat: dsat, sat: sat}
	}
	arg := func(i int) opProfile {
		return node.args[i].opCount
	}

	switch node.identifier {
	case f_0:
		node.opCount = profile(0, free, never)

	case f_1:
		node.opCount = profile(0, never, free)

	case f_pk_k:
		node.opCount = profile(0, free, free)

	case f_pk_h:
		// DUP HASH160 EQUALVERIFY around the key hash push.
		node.opCount = profile(3, free, free)

	case f_older, f_after:
		node.opCount = profile(1, never, free)

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		// SIZE <32> EQUALVERIFY <hashop> EQUAL.
		node.opCount = profile(4, free, free)

	case f_andor:
		x, y, z := arg(0), arg(1), arg(2)
		node.opCount = profile(
			3+x.static+y.static+z.static,
			z.dsat.add(x.dsat),
			y.sat.add(x.sat).worst(z.sat.add(x.dsat)),
		)

	case f_and_v:
		x, y := arg(0), arg(1)
		node.opCount = profile(
			x.static+y.static,
			never,
			y.sat.add(x.sat),
		)

	case f_and_b:
		x, y := arg(0), arg(1)
		node.opCount = profile(
			1+x.static+y.static,
			y.dsat.add(x.dsat),
			y.sat.add(x.sat),
		)

	case f_or_b:
		x, z := arg(0), arg(1)
		node.opCount = profile(
			1+x.static+z.static,
			z.dsat.add(x.dsat),
			z.dsat.add(x.sat).worst(z.sat.add(x.dsat)),
		)

	case f_or_c:
		x, z := arg(0), arg(1)
		node.opCount = profile(
			2+x.static+z.static,
			never,
			x.sat.worst(z.sat.add(x.dsat)),
		)

	case f_or_d:
		x, z := arg(0), arg(1)
		node.opCount = profile(
			3+x.static+z.static,
			z.dsat.add(x.dsat),
			x.sat.worst(z.sat.add(x.dsat)),
		)

	case f_or_i:
		x, z := arg(0), arg(1)
		node.opCount = profile(
			3+x.static+z.static,
			x.dsat.worst(z.dsat),
			x.sat.worst(z.sat),
		)

	case f_thresh:
		k := node.args[0].num
		n := len(node.args) - 1

		static := 0
		dsat := never
		sat := never
		for _, sub := range node.args[1:] {
			static += sub.opCount.static + 1
			dsat = dsat.add(sub.opCount.dsat)
		}
		for _, subset := range chooseK(n, int(k)) {
			candidate := free
			for i, sub := range node.args[1:] {
				if inSubset(subset, i) {
					candidate = sub.opCount.sat.add(
						candidate,
					)
				} else {
					candidate = sub.opCount.dsat.add(
						candidate,
					)
				}
			}
			sat = sat.worst(candidate)
		}
		node.opCount = profile(static, dsat, sat)

	case f_multi:
		// CHECKMULTISIG charges one op per key at execution time, for
		// satisfaction and dissatisfaction alike.
		n := len(node.args) - 1
		node.opCount = profile(1, opCostOf(n), opCostOf(n))

	case f_wrap_a:
		// TOALTSTACK / FROMALTSTACK pair.
		x := arg(0)
		node.opCount = profile(2+x.static, x.dsat, x.sat)

	case f_wrap_s, f_wrap_c, f_wrap_n:
		x := arg(0)
		node.opCount = profile(1+x.static, x.dsat, x.sat)

	case f_wrap_d:
		x := arg(0)
		node.opCount = profile(3+x.static, free, x.sat)

	case f_wrap_v:
		x := arg(0)
		static := x.static
		if !node.args[0].props.canCollapseVerify {
			// The OP_VERIFY cannot fuse into the previous opcode.
			static++
		}
		node.opCount = profile(static, never, x.sat)

	case f_wrap_j:
		x := arg(0)
		node.opCount = profile(4+x.static, free, x.sat)

	default:
		return nil, fmt.Errorf("unknown identifier: %s",
			node.identifier)
	}

	return node, nil
}
