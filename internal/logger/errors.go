package logger

import "errors"

// ErrInvalidConfig is returned by NewProcessLogger when max_log_size exceeds
// max_buffer_size.
var ErrInvalidConfig = errors.New("logger: invalid config")

// ErrInvalidArgument is returned by GetLogs when index or number_of_lines is
// negative.
var ErrInvalidArgument = errors.New("logger: invalid argument")
