// Package agent turns one natural-language utterance into zero or more
// calendar mutations and a natural-language reply.
//
// A turn is driven by an explicit state machine (see Next). The model is
// called once with the conversation and the tool schemas. When it requests
// tools, each call is executed through a typed dispatch table, the results
// are appended to the conversation, and the model is called exactly once
// more to phrase the reply. A turn therefore makes at most two model calls
// and runs at most one round of tool dispatch.
//
// HandleUtterance never returns an error: model outages, tool failures and
// panics all end in a reply the user can read.
package agent
