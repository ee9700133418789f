package storage

import "strings"

// Role is a bit flag describing what a storage directory holds.
type Role uint8

const (
	// RoleImage directories hold the namespace image.
	RoleImage Role = 1 << iota
	// RoleEdits directories hold the edit log segments.
	RoleEdits

	// RoleImageAndEdits directories hold both.
	RoleImageAndEdits = RoleImage | RoleEdits
)

// Has reports whether r includes every bit of other.
func (r Role) Has(other Role) bool {
	return r&other == other
}

func (r Role) String() string {
	switch r {
	case RoleImage:
		return "IMAGE"
	case RoleEdits:
		return "EDITS"
	case RoleImageAndEdits:
		return "IMAGE_AND_EDITS"
	default:
		return "NONE"
	}
}

// ParseRole parses the output of Role.String.
func ParseRole(s string) Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IMAGE":
		return RoleImage
	case "EDITS":
		return RoleEdits
	case "IMAGE_AND_EDITS":
		return RoleImageAndEdits
	default:
		return 0
	}
}

// Owner identifies the kind of process holding a storage directory.
type Owner string

const (
	OwnerPrimary   Owner = "primary"
	OwnerSecondary Owner = "secondary"
)

// StorageType is the VERSION-file type recorded for the owner.
func (o Owner) StorageType() string {
	if o == OwnerSecondary {
		return "CHECKPOINT"
	}
	return "NAME_NODE"
}

// ParseOwner parses the owner recorded in a lock file.
func ParseOwner(s string) Owner {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case string(OwnerSecondary):
		return OwnerSecondary
	case string(OwnerPrimary):
		return OwnerPrimary
	default:
		return Owner(s)
	}
}
