package imapmock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var expectedDateTime = time.Date(2009, time.November, 2, 23, 0, 0, 0, time.FixedZone("", -6*60*60))
var expectedDate = time.Date(2009, time.November, 2, 0, 0, 0, 0, time.UTC)

func TestParseMessageDateTime(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		// some permutations
		{"2 Nov 2009 23:00 -0600", true},
		{"Tue, 2 Nov 2009 23:00:00 -0600", true},
		{"Tue, 2 Nov 2009 23:00:00 -0600 (MST)", true},

		// whitespace
		{" 2 Nov 2009 23:00 -0600", true},

		// invalid
		{"abc10 Nov 2009 23:00 -0600123", false},
		{"10.Nov.2009 11:00:00 -9900", false},
	}
	for _, test := range tests {
		out, err := ParseMessageDateTime(test.in)
		if !test.ok {
			assert.Error(t, err, "input %q", test.in)
			continue
		}
		require.NoError(t, err, "input %q", test.in)
		assert.True(t, out.Equal(expectedDateTime), "input %q parsed as %v", test.in, out)
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2-Nov-2009 23:00:00 -0600", true},
		{"02-Nov-2009 23:00:00 -0600", true},
		{" 2-Nov-2009 23:00:00 -0600", true},

		// invalid or incomplete
		{"10-Nov-2009", false},
		{"abc10-Nov-2009 23:00:00 -0600123", false},
	}
	for _, test := range tests {
		out, err := ParseDateTime(test.in)
		if !test.ok {
			assert.Error(t, err, "input %q", test.in)
			continue
		}
		require.NoError(t, err, "input %q", test.in)
		assert.True(t, out.Equal(expectedDateTime), "input %q parsed as %v", test.in, out)
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2-Nov-2009", "02-Nov-2009", " 2-Nov-2009"} {
		out, err := ParseDate(in)
		require.NoError(t, err, "input %q", in)
		assert.True(t, out.Equal(expectedDate), "input %q parsed as %v", in, out)
	}

	_, err := ParseDate("2009-11-02")
	assert.Error(t, err)
}

func TestFormatDateTimeRoundTrip(t *testing.T) {
	s := FormatDateTime(expectedDateTime)
	assert.Equal(t, "02-Nov-2009 23:00:00 -0600", s)
	assert.True(t, ValidInternalDate(s))
	assert.False(t, ValidInternalDate("not a date"))

	out, err := ParseDateTime(s)
	require.NoError(t, err)
	assert.True(t, out.Equal(expectedDateTime))
}
