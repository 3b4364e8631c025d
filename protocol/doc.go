// Package protocol defines the JSON-RPC 2.0 envelopes and error codes shared
// by the bridge, the in-process server and the client.
//
// # Messages
//
// Transports move *Message values. A Message is a union of the three
// JSON-RPC shapes and is classified by its fields:
//
//	req, _ := protocol.NewRequestMessage(json.RawMessage(`"1"`), "echo", params)
//	req.IsRequest()      // method and id set
//	note, _ := protocol.NewRequestMessage(nil, protocol.MethodProgress, nil)
//	note.IsNotification() // method set, no id
//	resp, _ := protocol.NewResultMessage(req.ID, result)
//	resp.IsResponse()    // result or error set
//
// Handlers in the middleware and server packages work on the narrower
// Request and Response types; Message.Request and MessageFromResponse
// convert between the two.
//
// # Error Codes
//
// Standard JSON-RPC 2.0 error codes are defined as constants:
//
//	CodeParseError     = -32700  // Invalid JSON
//	CodeInvalidRequest = -32600  // Invalid Request object
//	CodeMethodNotFound = -32601  // Method not found
//	CodeInvalidParams  = -32602  // Invalid method parameters
//	CodeInternalError  = -32603  // Internal server error
//
// Helper functions create properly formatted errors:
//
//	err := protocol.NewMethodNotFound("unknown/method")
//	err := protocol.NewInvalidParams("missing required field: name")
package protocol
