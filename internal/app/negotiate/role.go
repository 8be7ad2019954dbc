package negotiate

import "github.com/voxlink/voxlink/internal/domain"

// Role decides who initiates the offer and who yields on collision.
// Both sides compute it independently from the two user ids they already
// know, with no extra round-trip.
type Role int

const (
	// Polite waits for the peer's offer and yields on collision.
	Polite Role = iota
	// Impolite creates the initial offer and keeps it on collision.
	Impolite
)

func (r Role) String() string {
	if r == Impolite {
		return "impolite"
	}
	return "polite"
}

// RoleBetween assigns the numerically larger id the Impolite role. The rule
// is symmetric: for distinct ids exactly one side computes Impolite. Equal
// ids would make both sides Polite and stall the call; callers must reject
// a match against an identical id before ever getting here.
func RoleBetween(local, peer domain.UserID) Role {
	if local > peer {
		return Impolite
	}
	return Polite
}
