// Package sievemanager keeps the per-mailbox filter state (signature text and
// vacation auto-responder) on disk and turns it into the Sieve script that the
// delivery agent runs.
//
// Every mutation rebuilds the whole script from the stored state:
//
//	{base}/{domain}/{local}/sieve/signature.txt
//	{base}/{domain}/{local}/sieve/vacation.json
//	{base}/{domain}/{local}/sieve/main.filterscript
//	{base}/{domain}/{local}/sieve/main.compiled
//	{base}/{domain}/{local}/.active-filter -> sieve/main.compiled
//
// The generated source is checked with go-sieve, compiled (sievec by default)
// into staging files and only then renamed into place, so the activation
// pointer never names a partially written artifact.
//
// Vacation records expire lazily. A record whose end date has passed is
// removed the next time it is read, and the script is rebuilt without the
// auto-reply rule.
package sievemanager
