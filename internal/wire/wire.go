// Package wire implements the bit-exact binary framing used between the
// issuance engine and its front-end connection pool. Each message on the
// wire is a 4-byte big-endian length prefix followed by that many bytes of
// payload; this package only knows how to marshal and unmarshal the two
// payload shapes (GrantRequest, GrantReply), not how a transport choses to
// use them.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds the 4-byte length prefix so a corrupt or adversarial
// peer cannot make a reader allocate unboundedly. It comfortably exceeds the
// largest legal GrantRequest (255-byte class tag + 64KiB holder name).
const MaxFrameSize = 1 << 20

// MaxHolderNameLen is the longest holder_name the 2-byte length prefix can
// encode.
const MaxHolderNameLen = 64*1024 - 1

// GrantRequest is the decoded form of a request payload (spec §4.2).
type GrantRequest struct {
	ClassTag   string
	Amount     uint32
	HolderName string
}

// Reason is a GrantReply status byte. Reason(0) is success; all other
// values are the error codes of spec §4.2 / §7.
type Reason byte

const (
	ReasonOK                 Reason = 0x00
	ReasonUnknownClass       Reason = 0x01
	ReasonInvalidAmount      Reason = 0x02
	ReasonInsufficientShares Reason = 0x03
	ReasonMalformed          Reason = 0x04
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "OK"
	case ReasonUnknownClass:
		return "UNKNOWN_CLASS"
	case ReasonInvalidAmount:
		return "INVALID_AMOUNT"
	case ReasonInsufficientShares:
		return "INSUFFICIENT_SHARES"
	case ReasonMalformed:
		return "MALFORMED"
	default:
		return "UNKNOWN_REASON"
	}
}

// Error makes Reason usable directly as an error for non-OK values.
func (r Reason) Error() string { return r.String() }

// GrantReply is the decoded form of a reply payload (spec §4.2).
type GrantReply struct {
	Status            Reason
	CertificateNumber uint64 // valid only when Status == ReasonOK
}

var (
	// ErrFrameTooLarge is returned when a peer's declared frame length
	// exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	// ErrHolderNameTooLong is returned encoding a holder_name longer than
	// MaxHolderNameLen. Decoding never returns it: the 2-byte length prefix
	// cannot declare a longer name.
	ErrHolderNameTooLong = errors.New("wire: holder_name exceeds maximum length")
	// ErrClassTagTooLong is returned when a class_tag cannot fit the 1-byte
	// length prefix (> 255 bytes).
	ErrClassTagTooLong = errors.New("wire: class_tag exceeds 255 bytes")
)

// readFrame reads a length-prefixed frame and returns its raw payload.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	var n = binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	var payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.WithMessage(err, "reading frame payload")
	}
	return payload, nil
}

// writeFrame writes |payload| prefixed with its big-endian length, and
// flushes |w| so the frame reaches the peer as one logical unit.
func writeFrame(w *bufio.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// EncodeRequest marshals |req| into its wire payload.
func EncodeRequest(req GrantRequest) ([]byte, error) {
	if len(req.ClassTag) > 0xff {
		return nil, ErrClassTagTooLong
	}
	if len(req.HolderName) > MaxHolderNameLen {
		return nil, ErrHolderNameTooLong
	}
	var buf = make([]byte, 0, 1+len(req.ClassTag)+4+2+len(req.HolderName))
	buf = append(buf, byte(len(req.ClassTag)))
	buf = append(buf, req.ClassTag...)

	var amt [4]byte
	binary.BigEndian.PutUint32(amt[:], req.Amount)
	buf = append(buf, amt[:]...)

	var hl [2]byte
	binary.BigEndian.PutUint16(hl[:], uint16(len(req.HolderName)))
	buf = append(buf, hl[:]...)
	buf = append(buf, req.HolderName...)
	return buf, nil
}

// DecodeRequest unmarshals a request payload previously produced by
// EncodeRequest (or an equivalent implementation in another language).
func DecodeRequest(payload []byte) (GrantRequest, error) {
	var req GrantRequest
	if len(payload) < 1 {
		return req, ReasonMalformed
	}
	var l1 = int(payload[0])
	payload = payload[1:]
	if len(payload) < l1 {
		return req, ReasonMalformed
	}
	req.ClassTag = string(payload[:l1])
	payload = payload[l1:]

	if len(payload) < 4 {
		return req, ReasonMalformed
	}
	req.Amount = binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]

	if len(payload) < 2 {
		return req, ReasonMalformed
	}
	var l3 = int(binary.BigEndian.Uint16(payload[:2]))
	payload = payload[2:]
	if len(payload) != l3 {
		return req, ReasonMalformed
	}
	req.HolderName = string(payload)
	return req, nil
}

// EncodeReply marshals |reply| into its wire payload.
func EncodeReply(reply GrantReply) []byte {
	if reply.Status != ReasonOK {
		return []byte{byte(reply.Status)}
	}
	var buf = make([]byte, 9)
	buf[0] = byte(ReasonOK)
	binary.BigEndian.PutUint64(buf[1:], reply.CertificateNumber)
	return buf
}

// DecodeReply unmarshals a reply payload previously produced by EncodeReply.
func DecodeReply(payload []byte) (GrantReply, error) {
	var reply GrantReply
	if len(payload) < 1 {
		return reply, ReasonMalformed
	}
	reply.Status = Reason(payload[0])
	if reply.Status != ReasonOK {
		return reply, nil
	}
	if len(payload) != 9 {
		return reply, ReasonMalformed
	}
	reply.CertificateNumber = binary.BigEndian.Uint64(payload[1:])
	return reply, nil
}

// WriteRequest frames and writes |req| to |w|.
func WriteRequest(w *bufio.Writer, req GrantRequest) error {
	var payload, err = EncodeRequest(req)
	if err != nil {
		return err
	}
	return writeFrame(w, payload)
}

// ReadRequest reads and decodes the next request frame from |r|.
func ReadRequest(r io.Reader) (GrantRequest, error) {
	var payload, err = readFrame(r)
	if err != nil {
		return GrantRequest{}, err
	}
	return DecodeRequest(payload)
}

// WriteReply frames and writes |reply| to |w|.
func WriteReply(w *bufio.Writer, reply GrantReply) error {
	return writeFrame(w, EncodeReply(reply))
}

// ReadReply reads and decodes the next reply frame from |r|.
func ReadReply(r io.Reader) (GrantReply, error) {
	var payload, err = readFrame(r)
	if err != nil {
		return GrantReply{}, err
	}
	return DecodeReply(payload)
}
