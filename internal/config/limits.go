package config

import "time"

const (
	// MaxFolderNameLength is the maximum length for folder names.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxFolderNameLength = 255

	// MaxFileNameLength is the maximum length for file names.
	// Same as folder names for consistency.
	MaxFileNameLength = 255

	// MaxFolderPathLength bounds the materialized path. Deeper trees are
	// rejected on create, rename and move.
	MaxFolderPathLength = 4096

	// MaxTagLength and MaxTags bound a single tag list
	MaxTagLength = 64
	MaxTags      = 50

	// MinSharePasswordLength and MaxSharePasswordLength bound share
	// passwords. bcrypt ignores input past 72 bytes.
	MinSharePasswordLength = 4
	MaxSharePasswordLength = 72

	// ShareTokenBytes is the entropy of a share token (256 bits)
	ShareTokenBytes = 32

	// MaxTokenAttempts bounds token regeneration on a collision
	MaxTokenAttempts = 3

	// DefaultCheckoutHours is used when a checkout names no duration
	DefaultCheckoutHours = 8

	// DefaultSweepInterval is the maintenance sweep period
	DefaultSweepInterval = 5 * time.Minute

	// bcrypt cost bounds
	DefaultBcryptCost = 10
	MinBcryptCost     = 4
	MaxBcryptCost     = 31
)
