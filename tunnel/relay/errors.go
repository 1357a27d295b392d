// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a message body ends before all of
	// its fixed-size fields are present.  Depending on context this may
	// simply mean "read more data".
	ErrTruncated = errors.New("relay: truncated message")

	// ErrExtraneousBytes is returned when a message whose type mandates
	// an exact-length body carries trailing bytes.  Always fatal to the
	// message's leg.
	ErrExtraneousBytes = errors.New("relay: extraneous bytes at end of message")

	// ErrBadLengthValue is returned when a length field is inconsistent
	// with the bytes actually present.  Always fatal to the leg.
	ErrBadLengthValue = errors.New("relay: bad length value")

	// ErrUnrecognizedVersion is returned when a versioned body carries a
	// version this implementation does not speak.  Always fatal to the
	// leg; distinct from a generic parse error so that peers running
	// future protocol versions can be told apart from corruption.
	ErrUnrecognizedVersion = errors.New("relay: unrecognized protocol version")
)

// BadMessageError indicates a structurally valid but semantically invalid
// message.  Fatal to the leg it arrived on.
type BadMessageError struct {
	Cmd Cmd
	Msg string
}

func (e *BadMessageError) Error() string {
	return fmt.Sprintf("relay: bad %v message: %s", e.Cmd, e.Msg)
}
