// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package database

import "errors"

// Sentinel errors for lookup misses and uniqueness conflicts. Handlers
// map these to HTTP status codes with errors.Is.
var (
	ErrEventNotFound   = errors.New("event not found")
	ErrClusterNotFound = errors.New("cluster not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrProfileNotFound = errors.New("user profile not found")
	ErrUsernameTaken   = errors.New("username already taken")
)
