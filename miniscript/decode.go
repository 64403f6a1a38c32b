package miniscript

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/txscript"
)

// ParseScript decodes a script back into a miniscript expression under the
// given context. The script must be the canonical encoding of a miniscript;
// scripts that cannot be expressed as miniscript return an error.
//
// The resulting tree satisfies the same semantic passes as one returned by
// Parse, but carries raw values instead of variables: keys are serialized
// pubkeys, pk_h nodes carry the 20 byte key hash. Callers that need a valid
// top level script should additionally run IsValidTopLevel.
func ParseScript(ctx *Context, script []byte) (*AST, error) {
	if ctx == nil {
		return nil, errors.New("script context required")
	}
	tokens, err := lexScript(script)
	if err != nil {
		return nil, err
	}
	d := &decoder{ctx: ctx, tokens: tokens, pos: len(tokens)}
	node, err := d.branch()
	if err != nil {
		return nil, err
	}
	if d.pos != 0 {
		return nil, fmt.Errorf("%d trailing script tokens after "+
			"decoding", d.pos)
	}
	return runDecodeTransformers(ctx, node)
}

// runDecodeTransformers runs the semantic passes on a decoded tree. The
// decoder emits fully expanded trees (no sugar, no wrapper strings) and
// validates arguments itself, so argCheck/expandWrappers/deSugar are not
// needed.
func runDecodeTransformers(ctx *Context, node *AST) (*AST, error) {
	setContext := func(n *AST) (*AST, error) {
		n.ctx = ctx
		if err := ctx.permitsFragment(n.identifier); err != nil {
			return nil, err
		}
		return n, nil
	}
	transformers := []func(*AST) (*AST, error){
		setContext,
		typeCheck,
		canCollapseVerify,
		malleabilityCheck,
		computeScriptLen,
		computeOpCount,
		computeSatSize,
	}
	var err error
	for _, transform := range transformers {
		node, err = node.apply(transform)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

type tokenKind int

const (
	// tokOp is a non-push opcode. VERIFY-fused opcodes are split into
	// their bare opcode followed by an OP_VERIFY token, so that the
	// verify wrapper decodes uniformly.
	tokOp tokenKind = iota

	// tokNum is a small number opcode (OP_0 through OP_16).
	tokNum

	// tokPush is a data push.
	tokPush
)

type token struct {
	kind tokenKind
	op   byte
	num  int64
	data []byte
}

// lexScript tokenizes a script for the decoder, splitting the fused
// OP_EQUALVERIFY, OP_CHECKSIGVERIFY and OP_CHECKMULTISIGVERIFY opcodes.
func lexScript(script []byte) ([]token, error) {
	var tokens []token
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		if data := tokenizer.Data(); len(data) > 0 {
			tokens = append(tokens, token{kind: tokPush, data: data})
			continue
		}
		switch {
		case op == txscript.OP_0:
			tokens = append(tokens, token{kind: tokNum, num: 0})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			tokens = append(tokens, token{
				kind: tokNum,
				num:  int64(op-txscript.OP_1) + 1,
			})

		case op == txscript.OP_EQUALVERIFY:
			tokens = append(tokens,
				token{kind: tokOp, op: txscript.OP_EQUAL},
				token{kind: tokOp, op: txscript.OP_VERIFY})

		case op == txscript.OP_CHECKSIGVERIFY:
			tokens = append(tokens,
				token{kind: tokOp, op: txscript.OP_CHECKSIG},
				token{kind: tokOp, op: txscript.OP_VERIFY})

		case op == txscript.OP_CHECKMULTISIGVERIFY:
			tokens = append(tokens,
				token{
					kind: tokOp,
					op:   txscript.OP_CHECKMULTISIG,
				},
				token{kind: tokOp, op: txscript.OP_VERIFY})

		default:
			tokens = append(tokens, token{kind: tokOp, op: op})
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// decoder parses a token stream back to front. Miniscript encodings are
// unambiguous when read from the end: every composite fragment terminates in
// an opcode that identifies it.
type decoder struct {
	ctx    *Context
	tokens []token

	// pos is the number of unconsumed tokens; tokens[pos-1] is consumed
	// next.
	pos int
}

func (d *decoder) next() (token, error) {
	if d.pos == 0 {
		return token{}, errors.New("unexpected end of script")
	}
	d.pos--
	return d.tokens[d.pos], nil
}

// peekOp reports whether the token i positions before the cursor is the given
// opcode.
func (d *decoder) peekOp(i int, op byte) bool {
	idx := d.pos - 1 - i
	if idx < 0 {
		return false
	}
	t := d.tokens[idx]
	return t.kind == tokOp && t.op == op
}

func (d *decoder) peekPush(i int) []byte {
	idx := d.pos - 1 - i
	if idx < 0 {
		return nil
	}
	t := d.tokens[idx]
	if t.kind != tokPush {
		return nil
	}
	return t.data
}

// atDelimiter reports whether the cursor is at a token that terminates a
// branch when reading backwards: the start of the script, a conditional
// opcode, or OP_TOALTSTACK.
func (d *decoder) atDelimiter() bool {
	if d.pos == 0 {
		return true
	}
	return d.peekOp(0, txscript.OP_IF) ||
		d.peekOp(0, txscript.OP_NOTIF) ||
		d.peekOp(0, txscript.OP_ELSE) ||
		d.peekOp(0, txscript.OP_TOALTSTACK)
}

// skipOp consumes the given opcode or fails.
func (d *decoder) skipOp(op byte) error {
	t, err := d.next()
	if err != nil {
		return err
	}
	if t.kind != tokOp || t.op != op {
		return fmt.Errorf("expected opcode 0x%02x in script", op)
	}
	return nil
}

// readNum consumes a number: either a small number opcode or a minimally
// encoded script number push.
func (d *decoder) readNum() (int64, error) {
	t, err := d.next()
	if err != nil {
		return 0, err
	}
	switch t.kind {
	case tokNum:
		return t.num, nil
	case tokPush:
		n, err := txscript.MakeScriptNum(t.data, true, 5)
		if err != nil {
			return 0, err
		}
		return int64(n), nil
	default:
		return 0, errors.New("expected number in script")
	}
}

func numNode(n int64) *AST {
	return &AST{
		identifier: strconv.FormatInt(n, 10),
		num:        uint64(n),
	}
}

func valueNode(value []byte) *AST {
	return &AST{
		identifier: hex.EncodeToString(value),
		value:      value,
	}
}

func wrapNode(wrapper string, inner *AST) *AST {
	return &AST{identifier: wrapper, args: []*AST{inner}}
}

// branch parses a sequence of expressions up to the nearest delimiter,
// folding juxtaposed expressions into and_v. Used at the top level, inside
// conditional branches and inside altstack sections, the three places where
// and_v concatenation occurs.
func (d *decoder) branch() (*AST, error) {
	node, err := d.expr()
	if err != nil {
		return nil, err
	}
	for !d.atDelimiter() {
		left, err := d.expr()
		if err != nil {
			return nil, err
		}
		node = &AST{
			identifier: f_and_v,
			args:       []*AST{left, node},
		}
	}
	return node, nil
}

// exprMaybeSwap parses an expression and absorbs a preceding OP_SWAP into the
// s wrapper. Used where a W typed subexpression is expected.
func (d *decoder) exprMaybeSwap() (*AST, error) {
	node, err := d.expr()
	if err != nil {
		return nil, err
	}
	if d.peekOp(0, txscript.OP_SWAP) {
		if _, err := d.next(); err != nil {
			return nil, err
		}
		node = wrapNode(f_wrap_s, node)
	}
	return node, nil
}

// expr parses a single expression ending at the cursor.
func (d *decoder) expr() (*AST, error) {
	t, err := d.next()
	if err != nil {
		return nil, err
	}

	switch t.kind {
	case tokNum:
		switch t.num {
		case 0:
			return &AST{identifier: f_0}, nil
		case 1:
			return &AST{identifier: f_1}, nil
		}
		return nil, fmt.Errorf("unexpected number %d in script", t.num)

	case tokPush:
		if err := d.ctx.checkKeyLen(t.data); err != nil {
			return nil, err
		}
		return &AST{
			identifier: f_pk_k,
			args:       []*AST{valueNode(t.data)},
		}, nil
	}

	switch t.op {
	case txscript.OP_CHECKSIG:
		inner, err := d.expr()
		if err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_c, inner), nil

	case txscript.OP_CHECKMULTISIG:
		return d.multi()

	case txscript.OP_CHECKSEQUENCEVERIFY:
		return d.timelock(f_older)

	case txscript.OP_CHECKLOCKTIMEVERIFY:
		return d.timelock(f_after)

	case txscript.OP_VERIFY:
		// DUP HASH160 <hash20> EQUALVERIFY is the pk_h fragment, any
		// other OP_VERIFY is the v wrapper.
		if hash := d.peekPush(1); d.peekOp(0, txscript.OP_EQUAL) &&
			len(hash) == hash160Len &&
			d.peekOp(2, txscript.OP_HASH160) &&
			d.peekOp(3, txscript.OP_DUP) {

			d.pos -= 4
			return &AST{
				identifier: f_pk_h,
				args:       []*AST{valueNode(hash)},
			}, nil
		}
		inner, err := d.expr()
		if err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_v, inner), nil

	case txscript.OP_EQUAL:
		return d.equal()

	case txscript.OP_BOOLAND:
		y, err := d.exprMaybeSwap()
		if err != nil {
			return nil, err
		}
		x, err := d.expr()
		if err != nil {
			return nil, err
		}
		return &AST{identifier: f_and_b, args: []*AST{x, y}}, nil

	case txscript.OP_BOOLOR:
		z, err := d.exprMaybeSwap()
		if err != nil {
			return nil, err
		}
		x, err := d.expr()
		if err != nil {
			return nil, err
		}
		return &AST{identifier: f_or_b, args: []*AST{x, z}}, nil

	case txscript.OP_FROMALTSTACK:
		inner, err := d.branch()
		if err != nil {
			return nil, err
		}
		if err := d.skipOp(txscript.OP_TOALTSTACK); err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_a, inner), nil

	case txscript.OP_0NOTEQUAL:
		inner, err := d.expr()
		if err != nil {
			return nil, err
		}
		return wrapNode(f_wrap_n, inner), nil

	case txscript.OP_ENDIF:
		return d.conditional()
	}

	return nil, fmt.Errorf("unexpected opcode 0x%02x in script", t.op)
}

// timelock parses the numeric argument of OP_CSV/OP_CLTV.
func (d *decoder) timelock(identifier string) (*AST, error) {
	n, err := d.readNum()
	if err != nil {
		return nil, err
	}
	if n < 1 || n >= 1<<31 {
		return nil, fmt.Errorf("%s(n) -> n must 1 ≤ n < 2^31, but "+
			"got: %d", identifier, n)
	}
	return &AST{identifier: identifier, args: []*AST{numNode(n)}}, nil
}

// multi parses <k> <key1> ... <keyn> <n> OP_CHECKMULTISIG with the
// terminating opcode already consumed.
func (d *decoder) multi() (*AST, error) {
	n, err := d.readNum()
	if err != nil {
		return nil, err
	}
	if n < 1 || n > multisigMaxKeys {
		return nil, fmt.Errorf("number of multisig keys must be "+
			"1..%d, got %d", multisigMaxKeys, n)
	}
	keys := make([]*AST, n)
	for i := int(n) - 1; i >= 0; i-- {
		t, err := d.next()
		if err != nil {
			return nil, err
		}
		if t.kind != tokPush {
			return nil, errors.New("expected key push in multisig")
		}
		if err := d.ctx.checkKeyLen(t.data); err != nil {
			return nil, err
		}
		keys[i] = valueNode(t.data)
	}
	k, err := d.readNum()
	if err != nil {
		return nil, err
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("multisig threshold must be 1..%d, "+
			"got %d", n, k)
	}
	return &AST{
		identifier: f_multi,
		args:       append([]*AST{numNode(k)}, keys...),
	}, nil
}

// equal disambiguates the two fragments terminating in OP_EQUAL: the hash
// locks (SIZE <32> EQUALVERIFY <hashop> <hash> EQUAL) and thresh
// (X1 X2 ADD ... Xn ADD <k> EQUAL).
func (d *decoder) equal() (*AST, error) {
	if hash := d.peekPush(0); hash != nil &&
		d.peekOp(2, txscript.OP_VERIFY) &&
		d.peekOp(3, txscript.OP_EQUAL) {

		identifier := ""
		switch {
		case d.peekOp(1, txscript.OP_SHA256) && len(hash) == 32:
			identifier = f_sha256
		case d.peekOp(1, txscript.OP_HASH256) && len(hash) == 32:
			identifier = f_hash256
		case d.peekOp(1, txscript.OP_RIPEMD160) &&
			len(hash) == hash160Len:

			identifier = f_ripemd160
		case d.peekOp(1, txscript.OP_HASH160) &&
			len(hash) == hash160Len:

			identifier = f_hash160
		}
		if identifier != "" {
			sizeCheck := d.pos-6 >= 0 &&
				d.tokens[d.pos-5].kind == tokNum &&
				d.tokens[d.pos-5].num == 32 &&
				d.peekOp(5, txscript.OP_SIZE)
			if !sizeCheck {
				return nil, errors.New("malformed hash lock " +
					"in script")
			}
			d.pos -= 6
			return &AST{
				identifier: identifier,
				args:       []*AST{valueNode(hash)},
			}, nil
		}
	}

	// thresh
	k, err := d.readNum()
	if err != nil {
		return nil, err
	}
	sub, err := d.exprMaybeSwap()
	if err != nil {
		return nil, err
	}
	subs := []*AST{sub}
	for d.peekOp(0, txscript.OP_ADD) {
		if _, err := d.next(); err != nil {
			return nil, err
		}
		sub, err := d.exprMaybeSwap()
		if err != nil {
			return nil, err
		}
		subs = append([]*AST{sub}, subs...)
	}
	if k < 1 || k > int64(len(subs)) {
		return nil, fmt.Errorf("thresh(k) -> k must 1 ≤ k ≤ %d, but "+
			"got: %d", len(subs), k)
	}
	return &AST{
		identifier: f_thresh,
		args:       append([]*AST{numNode(k)}, subs...),
	}, nil
}

// conditional parses the fragments terminating in OP_ENDIF, with that opcode
// already consumed: andor, or_c, or_d, or_i and the d/j wrappers.
func (d *decoder) conditional() (*AST, error) {
	first, err := d.branch()
	if err != nil {
		return nil, err
	}

	if d.peekOp(0, txscript.OP_ELSE) {
		if _, err := d.next(); err != nil {
			return nil, err
		}
		second, err := d.branch()
		if err != nil {
			return nil, err
		}
		t, err := d.next()
		if err != nil {
			return nil, err
		}
		if t.kind != tokOp {
			return nil, errors.New("malformed conditional in script")
		}
		switch t.op {
		case txscript.OP_IF:
			// IF <second> ELSE <first> ENDIF
			return &AST{
				identifier: f_or_i,
				args:       []*AST{second, first},
			}, nil

		case txscript.OP_NOTIF:
			// <x> NOTIF <second> ELSE <first> ENDIF
			x, err := d.expr()
			if err != nil {
				return nil, err
			}
			return &AST{
				identifier: f_andor,
				args:       []*AST{x, first, second},
			}, nil
		}
		return nil, errors.New("malformed conditional in script")
	}

	if d.peekOp(0, txscript.OP_NOTIF) {
		if _, err := d.next(); err != nil {
			return nil, err
		}
		ifDup := d.peekOp(0, txscript.OP_IFDUP)
		if ifDup {
			if _, err := d.next(); err != nil {
				return nil, err
			}
		}
		x, err := d.expr()
		if err != nil {
			return nil, err
		}
		identifier := f_or_c
		if ifDup {
			identifier = f_or_d
		}
		return &AST{
			identifier: identifier,
			args:       []*AST{x, first},
		}, nil
	}

	if d.peekOp(0, txscript.OP_IF) {
		if _, err := d.next(); err != nil {
			return nil, err
		}
		switch {
		case d.peekOp(0, txscript.OP_DUP):
			if _, err := d.next(); err != nil {
				return nil, err
			}
			return wrapNode(f_wrap_d, first), nil

		case d.peekOp(0, txscript.OP_0NOTEQUAL) &&
			d.peekOp(1, txscript.OP_SIZE):

			d.pos -= 2
			return wrapNode(f_wrap_j, first), nil
		}
		return nil, errors.New("malformed conditional in script")
	}

	return nil, errors.New("malformed conditional in script")
}
