package es

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipher(t *testing.T) {
	for _, alg := range []CipherAlgorithm{CipherAESGCM, CipherXChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			c, err := NewCipher(alg, TestKey(t))
			require.NoError(t, err)

			plaintext := []byte(`{"payload":{"what":"dinosaurs"}}`)
			ad := associatedData("world-1", 2)

			ct, err := c.Seal(plaintext, ad)
			require.NoError(t, err)
			require.False(t, bytes.Contains(ct, []byte("dinosaurs")))

			ct2, err := c.Seal(plaintext, ad)
			require.NoError(t, err)
			require.NotEqual(t, ct, ct2, "nonce must differ per seal")

			got, err := c.Open(ct, ad)
			require.NoError(t, err)
			require.Equal(t, plaintext, got)

			_, err = c.Open(ct, associatedData("world-1", 3))
			require.ErrorIs(t, err, ErrDecrypt)

			_, err = c.Open(ct, associatedData("world-2", 2))
			require.ErrorIs(t, err, ErrDecrypt)

			flipped := append([]byte(nil), ct...)
			flipped[len(flipped)-1] ^= 0x01
			_, err = c.Open(flipped, ad)
			require.ErrorIs(t, err, ErrDecrypt)

			_, err = c.Open(ct[:4], ad)
			require.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestCipher_wrongKey(t *testing.T) {
	a, err := NewAESGCM(TestKey(t))
	require.NoError(t, err)
	b, err := NewAESGCM(TestKey(t))
	require.NoError(t, err)

	ct, err := a.Seal([]byte("secret"), nil)
	require.NoError(t, err)
	_, err = b.Open(ct, nil)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestNewCipher_invalid(t *testing.T) {
	_, err := NewCipher(CipherAESGCM, make(Key, 7))
	require.Error(t, err)
	_, err = NewCipher(CipherXChaCha20Poly1305, make(Key, 16))
	require.Error(t, err)
	_, err = NewCipher("rot13", make(Key, 32))
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0xfb}, 32)

	for name, enc := range map[string]*base64.Encoding{
		"std":     base64.StdEncoding,
		"url":     base64.URLEncoding,
		"raw std": base64.RawStdEncoding,
		"raw url": base64.RawURLEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			key, err := ParseKey(" " + enc.EncodeToString(raw) + "\n")
			require.NoError(t, err)
			require.Equal(t, Key(raw), key)
		})
	}

	_, err := ParseKey("")
	require.Error(t, err)
	_, err = ParseKey("not base64!")
	require.Error(t, err)

	require.Equal(t, "Key(redacted)", Key(raw).String())
}
