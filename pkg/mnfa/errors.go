// SPDX-License-Identifier: BSD-3-Clause

package mnfa

import "errors"

var (
	// ErrInvalidConfig indicates a nil dependency was supplied to New.
	ErrInvalidConfig = errors.New("invalid mnfa controller configuration")
)
