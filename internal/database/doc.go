// Package database provides the PostgreSQL connection pool and the failure
// report store.
//
// The database is optional. When configured, failure reports are written to
// the error_reports table alongside (or instead of) the HTTP reporting
// endpoint, giving operators a queryable history of client-side failures.
package database
