package xdr

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteXDRStringPadding(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", []byte{0, 0, 0, 0}},
		{"abc", []byte{0, 0, 0, 3, 'a', 'b', 'c', 0}},
		{"test", []byte{0, 0, 0, 4, 't', 'e', 's', 't'}},
		{"hello", []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0, 0, 0}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		require.NoError(t, WriteXDRString(&buf, tt.in))
		assert.Equal(t, tt.want, buf.Bytes(), "encoding %q", tt.in)
	}
}

func TestDecodeOpaqueZeroLengthIsNotNil(t *testing.T) {
	data, err := DecodeOpaque(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Len(t, data, 0)
}

func TestDecodeOpaqueTruncated(t *testing.T) {
	// Claims 16 bytes, carries 3.
	in := []byte{0, 0, 0, 16, 1, 2, 3}
	_, err := DecodeOpaque(bytes.NewReader(in))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeOpaqueMissingPadding(t *testing.T) {
	in := []byte{0, 0, 0, 1, 0xAA}
	_, err := DecodeOpaque(bytes.NewReader(in))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeOpaqueTooLong(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXDROpaque(&buf, make([]byte, 21)))
	_, err := DecodeOpaqueMax(bytes.NewReader(buf.Bytes()), 20)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestDecodeOpaqueUnsizedReader(t *testing.T) {
	// io.MultiReader hides Len(); the short read must still be reported.
	r := io.MultiReader(bytes.NewReader([]byte{0, 0, 0, 8, 1, 2}))
	_, err := DecodeOpaque(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStringList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStringList(&buf, []string{"a", "bc", ""}))

	got, err := DecodeStringList(bytes.NewReader(buf.Bytes()), 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bc", ""}, got)
}

func TestStringListCountBeyondInput(t *testing.T) {
	// count = 1,000,000 with no items following
	in := []byte{0x00, 0x0F, 0x42, 0x40}
	_, err := DecodeStringList(bytes.NewReader(in), 1<<30, 10)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = DecodeStringList(bytes.NewReader(in), 5, 10)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestOptionalString(t *testing.T) {
	s := "label"
	for _, in := range []*string{nil, &s} {
		var buf bytes.Buffer
		require.NoError(t, WriteOptionalString(&buf, in))
		got, err := DecodeOptionalString(bytes.NewReader(buf.Bytes()), 64)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestDecodeBoolRejectsGarbage(t *testing.T) {
	_, err := DecodeBool(bytes.NewReader([]byte{0, 0, 0, 2}))
	assert.Error(t, err)
}

func TestIntegers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteInt32(&buf, -2))
	require.NoError(t, WriteInt64(&buf, -3))
	require.NoError(t, WriteUint64(&buf, 1<<40))
	r := bytes.NewReader(buf.Bytes())

	i32, err := DecodeInt32(r)
	require.NoError(t, err)
	i64, err := DecodeInt64(r)
	require.NoError(t, err)
	u64, err := DecodeUint64(r)
	require.NoError(t, err)

	assert.Equal(t, int32(-2), i32)
	assert.Equal(t, int64(-3), i64)
	assert.Equal(t, uint64(1<<40), u64)

	_, err = DecodeUint32(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
