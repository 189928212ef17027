package netutil

import (
	"fmt"
	"net"
)

// SelectBindAddr returns the address the companion should listen on. The
// preferred address wins when it is free; otherwise the candidate list is
// walked in order, but only when auto fallback is enabled.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", fmt.Errorf("no free companion bind address among %d candidates", len(candidates))
}

// IsAddrAvailable probes an address with a short-lived listener. A failure to
// listen means the port is taken, not an error.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
