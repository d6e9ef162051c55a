package protocol

import "errors"

var (
	ErrBadMagic           = errors.New("Frame is malformed, it does not start with the CNDT magic")
	ErrUnsupportedVersion = errors.New("Frame version is not supported by this implementation")
	ErrUnknownType        = errors.New("Frame carries an unknown message type tag")
	ErrEncryptedFrame     = errors.New("Frame carries the encrypted flag, which is reserved and unsupported")
	ErrReservedFlags      = errors.New("Frame carries reserved flag bits that must be zero")
	ErrReservedField      = errors.New("Frame reserved header field is not zero")
	ErrShortHeader        = errors.New("Frame is malformed, it is too short to hold a header")
	ErrShortPayload       = errors.New("Frame payload is shorter than the declared length")
	ErrFrameTooLarge      = errors.New("Frame payload exceeds the maximum frame size")
	ErrInflateTooLarge    = errors.New("Frame payload inflates beyond the maximum frame size")
)
