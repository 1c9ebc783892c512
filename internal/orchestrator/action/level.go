package action

import "fmt"

// VerificationLevel controls how much post-action checking the executor
// performs. Levels are ordered: NONE < BASIC < STANDARD < STRICT.
type VerificationLevel int

const (
	// VerifyNone fires the primitive and returns immediately.
	VerifyNone VerificationLevel = iota
	// VerifyBasic checks pre-conditions only (element exists and is visible).
	VerifyBasic
	// VerifyStandard adds a bounded post-condition check that the expected
	// state change occurred. The default.
	VerifyStandard
	// VerifyStrict additionally waits for the document and network to
	// stabilize before returning.
	VerifyStrict
)

var levelNames = map[VerificationLevel]string{
	VerifyNone:     "none",
	VerifyBasic:    "basic",
	VerifyStandard: "standard",
	VerifyStrict:   "strict",
}

// String returns the wire name of the level.
func (l VerificationLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("verification_level(%d)", int(l))
}

// AtLeast reports whether l is at or above the given level.
func (l VerificationLevel) AtLeast(min VerificationLevel) bool {
	return l >= min
}

// ParseVerificationLevel parses a wire name into a VerificationLevel.
// An empty string selects the standard level.
func ParseVerificationLevel(s string) (VerificationLevel, error) {
	switch s {
	case "":
		return VerifyStandard, nil
	case "none":
		return VerifyNone, nil
	case "basic":
		return VerifyBasic, nil
	case "standard":
		return VerifyStandard, nil
	case "strict":
		return VerifyStrict, nil
	default:
		return VerifyStandard, fmt.Errorf("unknown verification level: %q", s)
	}
}
