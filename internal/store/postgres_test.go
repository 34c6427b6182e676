package store

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	require.Equal(t, "evt_123", computeDedupKey(body))
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	got := computeDedupKey([]byte(`{"notId":"x"}`))
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	require.NoError(t, err)
	require.Len(t, b, 8)
	require.Equal(t, got, computeDedupKey([]byte(`{"notId":"x"}`)))
}

func TestDecodeTextArray(t *testing.T) {
	for _, in := range []string{"", "null", "[]"} {
		v, err := decodeTextArray(in)
		require.NoError(t, err)
		require.Nil(t, v, in)
	}
	v, err := decodeTextArray(`["Sài Gòn","HCM"]`)
	require.NoError(t, err)
	require.Equal(t, []string{"Sài Gòn", "HCM"}, v)

	_, err = decodeTextArray(`{a,b}`)
	require.Error(t, err)
}

func TestNullIfEmpty(t *testing.T) {
	require.Nil(t, nullIfEmpty(""))
	require.Equal(t, "x", nullIfEmpty("x"))
}
