package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorRecalcInProgress is returned when the per-audit scoring lock cannot be
// obtained. Callers should treat it as retryable.
var ErrorRecalcInProgress = errors.New("audit recalculation already in progress")
