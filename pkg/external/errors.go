// SPDX-License-Identifier: BSD-3-Clause

package external

import "errors"

// ErrUnknownAlarmEvent indicates Raise was called with an AlarmEvent value
// that has no configured subject mapping.
var ErrUnknownAlarmEvent = errors.New("unknown alarm event")
