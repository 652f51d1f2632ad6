package catalog

import "errors"

var (
	// ErrSearchUnavailable is recorded when the catalog could not be queried:
	// transport failure, non-success status, undecodable response or timeout.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrUnknownRanking is returned when a ranking policy name is not recognized.
	ErrUnknownRanking = errors.New("unknown ranking policy")
)
