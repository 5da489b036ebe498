package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "six2five/pkg/domain-errors"
)

// ProfileID identifies a player profile at the identity service. It is the
// 128-bit UUID used as both cache key and request key.
type ProfileID uuid.UUID

const (
	compactLen   = 32
	canonicalLen = 36
)

// ParseProfileID parses a profile identifier as it appears in a regions file.
// The compact 32-character hex form is accepted and dashed before parsing;
// anything that is not then a canonical, non-nil UUID is rejected.
func ParseProfileID(raw string) (ProfileID, error) {
	s := AddDashes(raw)
	if len(s) != canonicalLen {
		return ProfileID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid profile id: "+quote(raw))
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ProfileID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid profile id: "+quote(raw))
	}
	if u == uuid.Nil {
		return ProfileID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid profile id: nil uuid")
	}
	return ProfileID(u), nil
}

// AddDashes converts a compact 32-character identifier into the dashed
// 8-4-4-4-12 layout. Other inputs are returned unchanged.
func AddDashes(s string) string {
	if len(s) != compactLen {
		return s
	}
	var b strings.Builder
	b.Grow(canonicalLen)
	b.WriteString(s[0:8])
	b.WriteByte('-')
	b.WriteString(s[8:12])
	b.WriteByte('-')
	b.WriteString(s[12:16])
	b.WriteByte('-')
	b.WriteString(s[16:20])
	b.WriteByte('-')
	b.WriteString(s[20:32])
	return b.String()
}

// String returns the canonical dashed form.
func (id ProfileID) String() string {
	return uuid.UUID(id).String()
}

// Hex returns the 32-character form without dashes, as the identity service
// expects it in request paths.
func (id ProfileID) Hex() string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// IsNil returns true if the ID is the zero UUID.
func (id ProfileID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func quote(s string) string {
	const maxLen = 64
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return strconv.Quote(s)
}
