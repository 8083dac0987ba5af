package wasmruntime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelKindMatchesMessage(t *testing.T) {
	require.Equal(t, "out of bounds memory access", ErrMemoryOutOfBounds.Kind())
	require.Equal(t, ErrMemoryOutOfBounds.Error(), ErrMemoryOutOfBounds.Kind())
}

func TestDecodeErrorWrapsAndUnwraps(t *testing.T) {
	wrapped := WithOffset(ErrMalformedSection, 0x10, NodeKindSectionType)
	require.Error(t, wrapped)
	require.True(t, errors.Is(wrapped, ErrMalformedSection))

	var de *DecodeError
	require.True(t, errors.As(wrapped, &de))
	require.Equal(t, uint64(0x10), de.Offset)
	require.Equal(t, "malformed section", de.Kind())
	require.Contains(t, wrapped.Error(), "0x10")
}

func TestWithProposalRecordsProposal(t *testing.T) {
	wrapped := WithProposal(ErrIllegalOpCode, 4, NodeKindInstruction, "simd")
	require.Contains(t, wrapped.Error(), "simd")

	var de *DecodeError
	require.True(t, errors.As(wrapped, &de))
	require.Equal(t, "simd", de.Proposal)
}

func TestWithOffsetNilIsNil(t *testing.T) {
	require.NoError(t, WithOffset(nil, 0, NodeKindModule))
}

func TestTerminatedAndRevertAreDistinctFromTraps(t *testing.T) {
	term := &Terminated{ExitCode: 2}
	require.Equal(t, "Terminated", term.Kind())
	require.NotErrorIs(t, term, ErrUnreachable)

	rev := &Revert{Data: []byte("x")}
	require.Equal(t, "Revert", rev.Kind())
}
