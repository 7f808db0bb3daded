package enums

import "fmt"

// SyncDirection indicates which system originated the change.
type SyncDirection string

const (
	DirectionToRemote   SyncDirection = "to_remote"
	DirectionFromRemote SyncDirection = "from_remote"
)

var validSyncDirections = []SyncDirection{
	DirectionToRemote,
	DirectionFromRemote,
}

// IsValid reports whether the value is a known sync direction.
func (d SyncDirection) IsValid() bool {
	for _, candidate := range validSyncDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseSyncDirection converts raw input into SyncDirection.
func ParseSyncDirection(value string) (SyncDirection, error) {
	for _, candidate := range validSyncDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync direction %q", value)
}
