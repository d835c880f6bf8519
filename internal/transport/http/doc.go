// Package http implements the HTTP request handlers for the licensing
// backend. Handlers stay thin: they parse and validate requests, delegate to
// the service layer, and transform service errors into RFC 7807 Problem
// Details responses.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Engine
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// # Error Handling
//
// All errors follow RFC 7807 Problem Details:
//
//	{
//	    "type": "/errors/invalid-serial-checksum",
//	    "title": "Invalid Serial Number Checksum",
//	    "status": 400,
//	    "detail": "The serial number checksum does not match.",
//	    "error_code": "INVALID_CHECKSUM",
//	    "trace_id": "..."
//	}
package http
