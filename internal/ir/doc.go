// Package ir provides the value model shared by every replicate package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - A nil IRValue means "absent"; IRNull is a present JSON null
//   - Field values are compared by identity (Same), never by deep equality
//   - Events carry a logical seq, never a wall-clock timestamp
package ir
