package common

import (
	"errors"
	"fmt"
)

// ProtocolErrType classifies failures raised while handling wire messages.
type ProtocolErrType uint32

const (
	// Malformed means the payload could not be decoded. The message is dropped
	// and the connection survives.
	Malformed ProtocolErrType = iota
	// Violation means the peer broke the handshake rules. The connection is
	// closed with a bye.
	Violation
	// Verification means a signature, header link or inclusion proof did not
	// check out.
	Verification
	// QuotaExceeded means a relay sender ran out of quota.
	QuotaExceeded
)

var protocolErrNames = []string{"Malformed", "Violation", "Verification", "QuotaExceeded"}

// String ...
func (t ProtocolErrType) String() string {
	if int(t) < len(protocolErrNames) {
		return protocolErrNames[t]
	}
	return "Unknown"
}

// ProtocolErr ...
type ProtocolErr struct {
	errType ProtocolErrType
	msg     string
}

// NewProtocolErr ...
func NewProtocolErr(errType ProtocolErrType, format string, args ...interface{}) ProtocolErr {
	return ProtocolErr{
		errType: errType,
		msg:     fmt.Sprintf(format, args...),
	}
}

// Type returns the class of the error.
func (e ProtocolErr) Type() ProtocolErrType {
	return e.errType
}

// Error ...
func (e ProtocolErr) Error() string {
	return fmt.Sprintf("%s: %s", e.errType, e.msg)
}

// IsProtocol reports whether err, or an error it wraps, is a ProtocolErr of
// type t.
func IsProtocol(err error, t ProtocolErrType) bool {
	var pErr ProtocolErr
	return errors.As(err, &pErr) && pErr.errType == t
}
