package market

import "errors"

// ErrInvalidConfiguration marks a setting that is out of range. Every
// package that validates configuration wraps it, so errors.Is classifies a
// bad scorer config the same way as a bad risk policy.
var ErrInvalidConfiguration = errors.New("invalid configuration")
