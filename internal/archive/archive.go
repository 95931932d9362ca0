// Package archive is the entry point for snapshot archives. It re-exports the
// core types and selects a driver from configuration.
package archive

import "objectcore/internal/archive/core"

type (
	// Archive stores named wire documents.
	Archive = core.Archive
	// Info describes an archived snapshot.
	Info = core.Info
	// PutOptions carries metadata recorded with a document.
	PutOptions = core.PutOptions
	// Driver identifies an archive backend.
	Driver = core.Driver
)

const (
	DriverMemory     = core.DriverMemory
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverSQLite     = core.DriverSQLite
	DriverPostgres   = core.DriverPostgres
	DriverRedis      = core.DriverRedis

	ContentTypeJSON = core.ContentTypeJSON
)

var (
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrInvalidName = core.ErrInvalidName
)
