package utf7_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picomail/imapmock/utf7"
)

var decode = []struct {
	in  string
	out string
	ok  bool
}{
	{"", "", true},
	{"abc", "abc", true},
	{"&-abc", "&abc", true},
	{"abc&-", "abc&", true},
	{"a&-b&-c", "a&b&c", true},
	{"&ABk-", "\x19", true},
	{"&AB8-", "\x1F", true},
	{"ABk-", "ABk-", true},
	{"&-,&-&AP8-&-", "&,&ÿ&", true},
	{"&-&-,&AP8-&-", "&&,ÿ&", true},
	{"abc &- &AP8A,wD,- &- xyz", "abc & ÿÿÿ & xyz", true},

	// Illegal code point in ASCII
	{"\x00", "", false},
	{"\x1F", "", false},
	{"abc\n", "", false},
	{"abc\x7Fxyz", "", false},
	{"�", "", false},
	{"М", "", false},

	// Invalid Base64 alphabet
	{"&/+8-", "", false},
	{"&*-", "", false},

	// Missing closing '-'
	{"&", "", false},
	{"&Jjo", "", false},

	// Self-representing characters must not be encoded
	{"&AGE-", "", false},

	// Replacement code point in the encoded payload
	{"&,,0-", "", false},

	// Unpaired surrogate
	{"&2AA-", "", false},
}

func TestDecode(t *testing.T) {
	for _, tc := range decode {
		got, err := utf7.Decode(tc.in)
		if !tc.ok {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.out, got, "input %q", tc.in)
	}
}

var encode = []struct {
	in  string
	out string
}{
	{"", ""},
	{"abc", "abc"},
	{"&", "&-"},
	{"a&b&c", "a&-b&-c"},
	{"\x19", "&ABk-"},
	{"Entwürfe", "Entw&APw-rfe"},
	{"日本語", "&ZeVnLIqe-"},
}

func TestEncode(t *testing.T) {
	for _, tc := range encode {
		assert.Equal(t, tc.out, utf7.Encode(tc.in), "input %q", tc.in)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tc := range encode {
		got, err := utf7.Decode(tc.out)
		require.NoError(t, err, "input %q", tc.out)
		assert.Equal(t, tc.in, got)
	}
}

func TestEncodingTransform(t *testing.T) {
	encoded, err := utf7.Encoding.NewEncoder().String("Entwürfe")
	require.NoError(t, err)
	assert.Equal(t, "Entw&APw-rfe", encoded)

	decoded, err := utf7.Encoding.NewDecoder().String("Entw&APw-rfe")
	require.NoError(t, err)
	assert.Equal(t, "Entwürfe", decoded)
}
