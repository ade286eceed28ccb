package config

// Secret is a string type that redacts itself when printed
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalYAML ensures secrets are redacted when the config is dumped back
// to YAML (diagnostics, --print-config).
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}

// GoString redacts %#v formatting so a Secret never leaks into a panic
// trace or a debug log line.
func (s Secret) GoString() string {
	return "[REDACTED]"
}
