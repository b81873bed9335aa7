package sbc

import "errors"

var (
	// ErrInvalidParams indicates an illegal SBC configuration.
	ErrInvalidParams = errors.New("sbc: invalid parameters")

	// ErrNotInitialized indicates Encode before a successful Init.
	ErrNotInitialized = errors.New("sbc: encoder not initialized")

	// ErrPCMLength indicates a PCM block that is not exactly one frame.
	ErrPCMLength = errors.New("sbc: pcm length does not match frame size")

	// ErrSyncword indicates a frame that does not start with 0x9C.
	ErrSyncword = errors.New("sbc: bad syncword")

	// ErrShortFrame indicates a frame shorter than its header implies.
	ErrShortFrame = errors.New("sbc: frame too short")

	// ErrCRCMismatch indicates a frame whose header CRC does not verify.
	ErrCRCMismatch = errors.New("sbc: crc mismatch")
)
