package odoo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthenticationFailed is returned when Odoo rejects the credentials
var ErrAuthenticationFailed = errors.New("odoo authentication failed")

// sessionExpiredCode is the JSON-RPC error code Odoo uses for expired sessions
const sessionExpiredCode = 100

// RPCError is an error reported by the Odoo server
type RPCError struct {
	Code    int
	Message string
	Name    string // exception class, e.g. odoo.exceptions.UserError
	Debug   string
}

func (e *RPCError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("odoo rpc error %d (%s): %s", e.Code, e.Name, e.Message)
	}
	return fmt.Sprintf("odoo rpc error %d: %s", e.Code, e.Message)
}

// TransportError wraps network and HTTP failures talking to Odoo
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("odoo transport: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("odoo transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsSessionExpired reports whether err means the Odoo session must be renewed
func IsSessionExpired(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == sessionExpiredCode || strings.Contains(rpcErr.Name, "SessionExpired") {
		return true
	}
	return strings.Contains(strings.ToLower(rpcErr.Message), "session expired")
}
