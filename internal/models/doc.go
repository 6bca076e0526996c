// Package models defines domain entities and persistence interfaces for the trax acquisition engine.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): Lightweight structs representing external catalog data
//   - [TrackMetadata] : Track metadata returned by a backend catalog
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [Credential] : Bearer/refresh token material held per backend
//   - [ArchivedJob] : Terminal acquisition jobs retained for auditing
//
// All persistent entities implement the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
