package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumRoundTrip(t *testing.T) {
	bodies := []string{
		"",
		"elpkh(deadbeef)",
		"elwpkh(key_1)",
		"elwsh(and_v(v:pk(key_1),older(144)))",
		"elsh(wsh(multi(2,key_1,key_2,key_3)))",
		"elcovwsh(key_1,pk(key_2))",
	}
	for _, body := range bodies {
		tag, err := Checksum(body)
		require.NoError(t, err)
		require.Len(t, tag, checksumLen)

		parsed, err := VerifyChecksum(body + "#" + tag)
		require.NoError(t, err)
		require.Equal(t, body, parsed)
	}
}

func TestChecksumInvalidCharacter(t *testing.T) {
	_, err := Checksum("elpkh(é)")
	require.Error(t, err)

	require.Panics(t, func() {
		appendChecksum("elpkh(é)")
	})
}

func TestVerifyChecksumRejectsMutations(t *testing.T) {
	body := "elwpkh(key_1)"
	tag, err := Checksum(body)
	require.NoError(t, err)

	flip := func(c byte) byte {
		if c == 'q' {
			return 'p'
		}
		return 'q'
	}

	// A single changed tag character must be caught.
	for i := 0; i < len(tag); i++ {
		mutated := []byte(tag)
		mutated[i] = flip(mutated[i])
		_, err := VerifyChecksum(body + "#" + string(mutated))
		require.ErrorIs(t, err, ErrBadChecksum)
	}

	// A changed body character must be caught as well.
	_, err = VerifyChecksum("elvpkh(key_1)#" + tag)
	require.ErrorIs(t, err, ErrBadChecksum)

	// The separator and tag length are mandatory.
	_, err = VerifyChecksum(body)
	require.ErrorIs(t, err, ErrBadChecksum)

	_, err = VerifyChecksum(body + "#" + tag + "#")
	require.ErrorIs(t, err, ErrBadChecksum)

	_, err = VerifyChecksum(body + "#" + tag[:4])
	require.ErrorIs(t, err, ErrBadChecksum)
}
