package mcpmgr

// Lightweight helpers for narrowing TransportConfig values without forcing
// consumers to use a type switch at every call site.

// TransportOf returns the transport kind for a TransportConfig.
// Returns an empty string when the value is nil.
func TransportOf(cfg TransportConfig) TransportKind {
	if cfg == nil {
		return ""
	}
	return cfg.kind()
}

// IsProcess reports whether cfg is a *ProcessTransport.
func IsProcess(cfg TransportConfig) bool {
	_, ok := cfg.(*ProcessTransport)
	return ok
}

// IsStream reports whether cfg is a *StreamTransport.
func IsStream(cfg TransportConfig) bool {
	_, ok := cfg.(*StreamTransport)
	return ok
}

// AsProcess narrows cfg to *ProcessTransport, returning (nil, false) when it
// does not match.
func AsProcess(cfg TransportConfig) (*ProcessTransport, bool) {
	c, ok := cfg.(*ProcessTransport)
	return c, ok
}

// AsStream narrows cfg to *StreamTransport, returning (nil, false) when it
// does not match.
func AsStream(cfg TransportConfig) (*StreamTransport, bool) {
	c, ok := cfg.(*StreamTransport)
	return c, ok
}
