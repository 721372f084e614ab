// Package logx is agendawatch's structured logger, a thin layer over zerolog.
//
// Console output is human readable with a short file:line caller. The file
// sink writes JSON lines. Records at or above a configurable level can also
// be forwarded to a Forwarder, such as the notifier, under a rate limit.
//
// The zero Logger discards everything, so components can take a Logger by
// value without nil checks.
package logx
