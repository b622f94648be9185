package engine

import "errors"

// ErrNotFound is returned when a record has vanished, typically because its
// TTL elapsed between ingestion and classification. Recoverable: re-add or
// skip.
var ErrNotFound = errors.New("record not found")
