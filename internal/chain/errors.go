package chain

import (
	"fmt"
	"strings"
)

// ConfigurationError is fatal: the request referenced an unknown network or
// an address that cannot be analyzed. It is surfaced immediately, never retried.
type ConfigurationError struct {
	Network string
	Address string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Address != "":
		return fmt.Sprintf("configuration error: address %s: %s", e.Address, e.Reason)
	case e.Network != "":
		return fmt.Sprintf("configuration error: network %s: %s", e.Network, e.Reason)
	default:
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
}

// ConnectivityError is returned when every candidate endpoint of a network
// failed the liveness probe. It carries the endpoints in the order they were
// tried plus the last underlying failure.
type ConnectivityError struct {
	Network   string
	Attempted []string
	Err       error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("all %d endpoints failed for network %s (tried %s): %v",
		len(e.Attempted), e.Network, strings.Join(e.Attempted, ", "), e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
