package interpreter

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestElementFromBytes(t *testing.T) {
	require.Equal(t, ElementDissatisfied, elementFromBytes(nil).Kind)
	require.Equal(t, ElementDissatisfied, elementFromBytes([]byte{}).Kind)
	require.Equal(t, ElementSatisfied, elementFromBytes([]byte{1}).Kind)

	elem := elementFromBytes([]byte{1, 2, 3})
	require.Equal(t, ElementPush, elem.Kind)
	require.Equal(t, []byte{1, 2, 3}, elem.Data)
}

func TestElementScriptBytes(t *testing.T) {
	require.Equal(t, []byte{txscript.OP_1},
		Element{Kind: ElementSatisfied}.scriptBytes())
	require.Nil(t, Element{Kind: ElementDissatisfied}.scriptBytes())
	require.Equal(t, []byte{0xab},
		Element{Kind: ElementPush, Data: []byte{0xab}}.scriptBytes())

	_, err := Element{Kind: ElementSatisfied}.push()
	require.ErrorIs(t, err, ErrExpectedPush)
}

func TestStackOrder(t *testing.T) {
	stack := NewStack(
		Element{Kind: ElementPush, Data: []byte{1}},
		Element{Kind: ElementPush, Data: []byte{2}},
	)
	require.Equal(t, 2, stack.Len())

	top, ok := stack.Top()
	require.True(t, ok)
	require.Equal(t, []byte{2}, top.Data)

	popped, ok := stack.Pop()
	require.True(t, ok)
	require.Equal(t, []byte{2}, popped.Data)
	require.Equal(t, 1, stack.Len())

	stack.Push(Element{Kind: ElementSatisfied})
	top, ok = stack.Top()
	require.True(t, ok)
	require.Equal(t, ElementSatisfied, top.Kind)

	stack.Pop()
	stack.Pop()
	require.True(t, stack.Empty())
	_, ok = stack.Pop()
	require.False(t, ok)
}

func TestStackFromWitness(t *testing.T) {
	witness := wire.TxWitness{nil, {1}, {0xca, 0xfe}}
	stack := stackFromWitness(witness)
	require.Equal(t, 3, stack.Len())

	// The last witness item is the top of the stack.
	top, _ := stack.Pop()
	require.Equal(t, []byte{0xca, 0xfe}, top.Data)
	mid, _ := stack.Pop()
	require.Equal(t, ElementSatisfied, mid.Kind)
	bottom, _ := stack.Pop()
	require.Equal(t, ElementDissatisfied, bottom.Kind)
}

func TestStackFromScriptSig(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 33)
	scriptSig, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddOp(txscript.OP_1).
		AddOp(txscript.OP_16).
		AddOp(txscript.OP_1NEGATE).
		AddData(payload).
		Script()
	require.NoError(t, err)

	stack, err := stackFromScriptSig(scriptSig)
	require.NoError(t, err)
	require.Equal(t, 5, stack.Len())

	top, _ := stack.Pop()
	require.Equal(t, payload, top.Data)
	neg, _ := stack.Pop()
	require.Equal(t, []byte{0x81}, neg.Data)
	sixteen, _ := stack.Pop()
	require.Equal(t, []byte{16}, sixteen.Data)
	one, _ := stack.Pop()
	require.Equal(t, ElementSatisfied, one.Kind)
	zero, _ := stack.Pop()
	require.Equal(t, ElementDissatisfied, zero.Kind)
}

func TestStackFromScriptSigRejectsNonMinimal(t *testing.T) {
	// A data push of a small number must use the number opcode.
	_, err := stackFromScriptSig([]byte{0x01, 0x05})
	require.ErrorIs(t, err, ErrNonMinimalPush)

	_, err = stackFromScriptSig([]byte{0x01, 0x81})
	require.ErrorIs(t, err, ErrNonMinimalPush)

	// OP_PUSHDATA1 for a payload short enough for a direct push.
	_, err = stackFromScriptSig([]byte{
		txscript.OP_PUSHDATA1, 0x03, 0x0a, 0x0b, 0x0c,
	})
	require.ErrorIs(t, err, ErrNonMinimalPush)
}

func TestStackFromScriptSigRejectsNonPush(t *testing.T) {
	_, err := stackFromScriptSig([]byte{txscript.OP_DUP})
	require.ErrorIs(t, err, ErrExpectedPush)
}
