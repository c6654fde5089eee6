// Package ir provides the data model shared by every flowsim package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - token payloads use int64 for numbers
//   - Token ids are content-addressed: see GenerateTokenID
//   - Simulation time is a logical tick (int64), never wall-clock
//   - Scenario documents use camelCase keys; engine records use snake_case
package ir
