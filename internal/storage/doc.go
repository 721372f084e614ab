// Package storage persists what agendawatch must remember across restarts:
// job run records, notifier dedup deadlines and the weekly sent marks of the
// room check.
//
// Two drivers implement Store. "file" needs nothing but a directory;
// "sqlite" uses the pure-Go modernc.org/sqlite driver.
package storage
