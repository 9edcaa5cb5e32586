// Package nlu turns natural-language requests into engine intents.
//
// Client calls the remote intent service. Parser wraps any upstream parser
// and normalizes what it returns: actions outside create, update, delete,
// list and describe and unknown resource families are replaced by a local
// keyword parse of the text, a region named in the text wins, and
// parameters the text implies fill the gaps. With no upstream, or when the
// upstream fails, the local parse is used on its own.
package nlu
