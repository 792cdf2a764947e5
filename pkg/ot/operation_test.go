package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyInsert(t *testing.T) {
	tests := []struct {
		name    string
		content string
		op      TextOperation
		want    string
	}{
		{"middle", "abc", TextOperation{Kind: Insert, Position: 1, Text: "X"}, "aXbc"},
		{"start", "abc", TextOperation{Kind: Insert, Position: 0, Text: "X"}, "Xabc"},
		{"end", "abc", TextOperation{Kind: Insert, Position: 3, Text: "X"}, "abcX"},
		{"past end clamps", "abc", TextOperation{Kind: Insert, Position: 10, Text: "X"}, "abcX"},
		{"negative clamps", "abc", TextOperation{Kind: Insert, Position: -5, Text: "X"}, "Xabc"},
		{"empty buffer", "", TextOperation{Kind: Insert, Position: 0, Text: "foo"}, "foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.content, tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyDelete(t *testing.T) {
	tests := []struct {
		name    string
		content string
		op      TextOperation
		want    string
	}{
		{"middle", "abcdef", TextOperation{Kind: Delete, Position: 1, Length: 2}, "adef"},
		{"whole buffer", "abc", TextOperation{Kind: Delete, Position: 0, Length: 3}, ""},
		{"over-long truncates", "abc", TextOperation{Kind: Delete, Position: 1, Length: 99}, "a"},
		{"past end is no-op", "abc", TextOperation{Kind: Delete, Position: 10, Length: 2}, "abc"},
		{"zero length is no-op", "abc", TextOperation{Kind: Delete, Position: 1, Length: 0}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.content, tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyMalformed(t *testing.T) {
	_, err := Apply("abc", TextOperation{Kind: "retain", Position: 0})
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = Apply("abc", TextOperation{Kind: Delete, Position: 0, Length: -1})
	require.ErrorIs(t, err, ErrInvalidOperation)
}

// Batches apply left-to-right, each op against the result of the previous,
// not all against the original buffer.
func TestApplyAllSequential(t *testing.T) {
	got, err := ApplyAll("foobar", []TextOperation{
		{Kind: Delete, Position: 0, Length: 3},
		{Kind: Insert, Position: 2, Text: "seball"},
		{Kind: Delete, Position: 8, Length: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "baseball", got)
}

func TestApplyAllStopsOnError(t *testing.T) {
	_, err := ApplyAll("abc", []TextOperation{
		{Kind: Insert, Position: 0, Text: "x"},
		{Kind: "bogus"},
	})
	require.ErrorIs(t, err, ErrInvalidOperation)
}
