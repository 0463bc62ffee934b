package entity

// ChallengeKind enumerates what the challenge resolver had to do.
type ChallengeKind string

const (
	NoChallengeDetected  ChallengeKind = "none"
	ResolvedConsent      ChallengeKind = "consent"
	ResolvedOverlay      ChallengeKind = "overlay"
	ResolvedVerification ChallengeKind = "verification"
	ChallengeFailed      ChallengeKind = "failed"
)

// ChallengeOutcome is transient and never persisted. Kind is the most
// significant step taken; Steps lists every step that fired, in order.
type ChallengeOutcome struct {
	Kind   ChallengeKind
	Steps  []ChallengeKind
	Reason string
}

// OK reports whether content can be trusted.
func (o ChallengeOutcome) OK() bool {
	return o.Kind != ChallengeFailed
}
