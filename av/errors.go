package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Frame production errors.
var (
	// ErrUnderflow indicates the audio channel had no complete frame.
	ErrUnderflow = errors.New("pcm source underflow")

	// ErrNotConfigured indicates frame production before the encoder and
	// feeding were configured.
	ErrNotConfigured = errors.New("pipeline not configured")
)

// Control protocol errors.
var (
	// ErrCommandPending indicates a control request while another one is
	// still waiting for its acknowledgement.
	ErrCommandPending = errors.New("control command already pending")

	// ErrNoCommandPending indicates an acknowledgement with nothing pending.
	ErrNoCommandPending = errors.New("no control command pending")

	// ErrUnknownCommand indicates a control byte outside the protocol.
	ErrUnknownCommand = errors.New("unknown control command")
)

// Configuration errors.
var (
	// ErrInvalidBitpoolRange indicates min bitpool above max bitpool.
	ErrInvalidBitpoolRange = errors.New("invalid bitpool range")

	// ErrUnsupportedSampleRate indicates a feeding rate with no SBC
	// counterpart.
	ErrUnsupportedSampleRate = errors.New("unsupported feeding sample rate")

	// ErrUnknownTranscoding indicates a feeding format the pipeline cannot
	// convert.
	ErrUnknownTranscoding = errors.New("unknown transcoding format")
)

// Task lifecycle errors.
var (
	// ErrTaskNotRunning indicates a request to a task that is not running.
	ErrTaskNotRunning = errors.New("media task is not running")

	// ErrTaskAlreadyRunning indicates Start on a running task.
	ErrTaskAlreadyRunning = errors.New("media task is already running")

	// ErrStartupTimeout indicates the event loop did not come up in time.
	ErrStartupTimeout = errors.New("media task startup timed out")
)
