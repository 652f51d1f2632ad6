package raster

import "errors"

var (
	// ErrFetchFailed covers transport errors, non-success statuses, undecodable
	// band data and timeouts.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrBandMissing is returned when a scene lacks one of the visible bands.
	ErrBandMissing = errors.New("band missing")

	// ErrEmptyCrop is returned when the area of interest does not overlap the
	// scene footprint.
	ErrEmptyCrop = errors.New("empty crop")
)
