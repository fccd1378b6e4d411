package core

import "time"

// nowMillis is the default clock used where a command's caller does not
// supply one, expressed as a function value so tests can substitute a
// deterministic clock without touching global state.
func nowMillis() int64 { return time.Now().UnixMilli() }
