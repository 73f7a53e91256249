package models

// Tier selects which configured model serves a request.
type Tier string

const (
	// TierFlash is the fast, inexpensive model.
	TierFlash Tier = "flash"
	// TierPro is the slower model used for code and analysis work.
	TierPro Tier = "pro"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierFlash, TierPro:
		return true
	default:
		return false
	}
}
