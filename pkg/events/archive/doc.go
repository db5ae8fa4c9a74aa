// Package archive persists audit events to SQLite as they are evicted
// from (or appended to) the in-memory buffer, and prunes old rows on a
// cron schedule so the archive honors the configured retention.
package archive
