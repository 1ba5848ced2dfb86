package store

import "errors"

// ErrNotFound is returned by updates that target a missing row.
// Lookups return nil, nil instead.
var ErrNotFound = errors.New("not found")
