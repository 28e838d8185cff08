package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatParseRoundTrip(t *testing.T) {
	var cases = []Record{
		{ClassTag: "CS", CertificateNumber: 1, Amount: 10, HolderName: "Alice"},
		{ClassTag: "PS", CertificateNumber: 42, Amount: 1000000, HolderName: "Bob Smith Jr."},
		{ClassTag: "CS", CertificateNumber: 2, Amount: 5, HolderName: ""},
	}
	for _, tc := range cases {
		var line, err = Format(tc)
		assert.NoError(t, err)

		var got, perr = Parse(line)
		assert.NoError(t, perr)
		assert.Equal(t, tc, got)
	}
}

func TestFormatRejectsNewlineInHolderName(t *testing.T) {
	var _, err = Format(Record{ClassTag: "CS", CertificateNumber: 1, Amount: 1, HolderName: "line1\nline2"})
	assert.Equal(t, ErrHolderNameNewline, err)
}

func TestParseHolderNameWithSpaces(t *testing.T) {
	var rec, err = Parse("CS 1 10 Alice Q. Public")
	assert.NoError(t, err)
	assert.Equal(t, "Alice Q. Public", rec.HolderName)
}

func TestParseCorruptLine(t *testing.T) {
	var cases = []string{
		"",
		"CS",
		"CS notanumber 10 Alice",
		"CS 1 notanumber Alice",
		" 1 10 Alice", // Empty class_tag.
	}
	for _, tc := range cases {
		var _, err = Parse(tc)
		assert.ErrorIs(t, err, ErrCorruptLine)
	}
}
