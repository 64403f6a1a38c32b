package interpreter

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ElementKind distinguishes byte pushes from the two boolean sentinels that
// script execution treats specially.
type ElementKind int

const (
	// ElementPush is an ordinary byte string.
	ElementPush ElementKind = iota

	// ElementSatisfied is the canonical true value (a single 0x01 byte).
	ElementSatisfied

	// ElementDissatisfied is the canonical false value (the empty push).
	ElementDissatisfied
)

// Element is one entry of a scriptSig or witness stack.
type Element struct {
	Kind ElementKind

	// Data holds the bytes of an ElementPush. It is nil for the
	// sentinels.
	Data []byte
}

// elementFromBytes maps raw stack bytes to an element, folding the canonical
// boolean encodings into their sentinels.
func elementFromBytes(data []byte) Element {
	switch {
	case len(data) == 0:
		return Element{Kind: ElementDissatisfied}
	case len(data) == 1 && data[0] == 1:
		return Element{Kind: ElementSatisfied}
	default:
		return Element{Kind: ElementPush, Data: data}
	}
}

// push returns the element's bytes, failing on sentinels.
func (e Element) push() ([]byte, error) {
	if e.Kind != ElementPush {
		return nil, ErrExpectedPush
	}
	return e.Data, nil
}

// scriptBytes returns the script encoding of the element's value: sentinels
// map to their one-opcode scripts.
func (e Element) scriptBytes() []byte {
	switch e.Kind {
	case ElementSatisfied:
		return []byte{txscript.OP_1}
	case ElementDissatisfied:
		return nil
	default:
		return e.Data
	}
}

// Stack is the residual scriptSig or witness data left over after
// classification has consumed its prefix. The top of the stack is the last
// element.
type Stack struct {
	elements []Element
}

// NewStack builds a stack with the given elements, bottom first.
func NewStack(elements ...Element) *Stack {
	return &Stack{elements: elements}
}

// Len returns the number of elements.
func (s *Stack) Len() int {
	return len(s.elements)
}

// Empty reports whether the stack has no elements.
func (s *Stack) Empty() bool {
	return len(s.elements) == 0
}

// Pop removes and returns the top element.
func (s *Stack) Pop() (Element, bool) {
	if len(s.elements) == 0 {
		return Element{}, false
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top, true
}

// Top returns the top element without removing it.
func (s *Stack) Top() (Element, bool) {
	if len(s.elements) == 0 {
		return Element{}, false
	}
	return s.elements[len(s.elements)-1], true
}

// Push places an element on top of the stack.
func (s *Stack) Push(element Element) {
	s.elements = append(s.elements, element)
}

// stackFromWitness maps a witness to a stack. The last witness item becomes
// the top of the stack.
func stackFromWitness(witness wire.TxWitness) *Stack {
	elements := make([]Element, len(witness))
	for i, item := range witness {
		elements[i] = elementFromBytes(item)
	}
	return &Stack{elements: elements}
}

// stackFromScriptSig lexes an unlocking script into a stack. Only pushes are
// admitted and every push must be minimally encoded.
func stackFromScriptSig(scriptSig []byte) (*Stack, error) {
	var elements []Element
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		data := tokenizer.Data()
		switch {
		case op == txscript.OP_0:
			elements = append(elements,
				Element{Kind: ElementDissatisfied})

		case op == txscript.OP_1NEGATE:
			elements = append(elements, Element{
				Kind: ElementPush,
				Data: []byte{0x81},
			})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			num := op - txscript.OP_1 + 1
			elements = append(elements,
				elementFromBytes([]byte{num}))

		case op <= txscript.OP_PUSHDATA4:
			if err := checkMinimalPush(op, data); err != nil {
				return nil, err
			}
			elements = append(elements, elementFromBytes(data))

		default:
			return nil, ErrExpectedPush
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return &Stack{elements: elements}, nil
}

// checkMinimalPush verifies that a data push uses the shortest possible
// encoding for its payload.
func checkMinimalPush(op byte, data []byte) error {
	switch {
	case len(data) == 0:
		return ErrNonMinimalPush
	case len(data) == 1 && data[0] >= 1 && data[0] <= 16:
		return ErrNonMinimalPush
	case len(data) == 1 && data[0] == 0x81:
		return ErrNonMinimalPush
	case op == txscript.OP_PUSHDATA1 && len(data) < txscript.OP_PUSHDATA1:
		return ErrNonMinimalPush
	case op == txscript.OP_PUSHDATA2 && len(data) < 0x100:
		return ErrNonMinimalPush
	case op == txscript.OP_PUSHDATA4 && len(data) < 0x10000:
		return ErrNonMinimalPush
	}
	return nil
}
