// Package api serves the ASH HTTP and WebSocket interface.
//
// Routes:
//
//	POST /api/chat                    run one turn
//	GET  /api/sessions?userId=        list sessions
//	GET  /api/sessions/{id}/messages  session transcript
//	GET  /api/events?userId=&from=&to= mirrored events
//	POST /api/availability            free slots for a given busy list
//	POST /api/transcribe              speech to text, optionally chatting
//	GET  /api/ws?userId=              chat over a WebSocket
//
// Errors are returned as {"error": "..."}.
package api
