package journal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Record is one committed grant, in the shape spec §4.3 requires on disk:
//
//	<class_tag> <certificate_number> <amount> <holder_name>
//
// HolderName is the final field and may itself contain spaces; it is never
// allowed to contain '\n' or '\r' (enforced at the write boundary, not here).
type Record struct {
	ClassTag          string
	CertificateNumber uint64
	Amount            uint64
	HolderName        string
}

// ErrHolderNameNewline is returned by Format when HolderName contains a
// byte that would corrupt the line-oriented journal format.
var ErrHolderNameNewline = errors.New("journal: holder_name contains '\\n' or '\\r'")

// ErrCorruptLine is returned by Parse when a line cannot be decomposed into
// a non-empty class_tag, two unsigned integers, and an optional holder_name.
// A line failing to parse, other than a final
// torn write, indicates journal corruption and must abort startup.
var ErrCorruptLine = errors.New("journal: corrupt record line")

// Format renders |r| as a single line, without a trailing newline. The
// caller (Append) is responsible for appending the newline terminator.
func Format(r Record) (string, error) {
	if strings.ContainsAny(r.HolderName, "\n\r") {
		return "", ErrHolderNameNewline
	}
	return fmt.Sprintf("%s %d %d %s", r.ClassTag, r.CertificateNumber, r.Amount, r.HolderName), nil
}

// Parse decodes a single journal line (without its trailing newline) into a
// Record. Parsing splits on single ' ' bytes, exactly as Format writes them
// (tabs and runs of spaces are not treated as one separator), reading the
// first three fields as class_tag, certificate_number, and amount, and
// treats the remainder of the line as holder_name — which may itself
// contain spaces.
func Parse(line string) (Record, error) {
	var parts = strings.SplitN(line, " ", 4)
	if len(parts) < 3 {
		return Record{}, ErrCorruptLine
	}

	var rec Record
	rec.ClassTag = parts[0]

	var err error
	if rec.CertificateNumber, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return Record{}, errors.WithMessage(ErrCorruptLine, err.Error())
	}
	if rec.Amount, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
		return Record{}, errors.WithMessage(ErrCorruptLine, err.Error())
	}
	if len(parts) == 4 {
		rec.HolderName = parts[3]
	}
	if rec.ClassTag == "" {
		return Record{}, ErrCorruptLine
	}
	return rec, nil
}
