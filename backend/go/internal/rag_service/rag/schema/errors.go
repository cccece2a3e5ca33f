package schema

import "errors"

// Error kinds. Every error leaving the pipelines wraps exactly one of these.
var (
	// ErrConfiguration reports missing or incompatible storage or model settings. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrLoad reports a bad or missing source document.
	ErrLoad = errors.New("load error")
	// ErrRetrievalUnavailable reports an empty or unreachable index.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrModelUnavailable reports an embedding or language model that failed or timed out.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrEmptyInput reports a blank question or a blank document.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidInput reports a malformed request value.
	ErrInvalidInput = errors.New("invalid input")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrEmptyInput, "EmptyInput"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrLoad, "LoadError"},
	{ErrRetrievalUnavailable, "RetrievalUnavailable"},
	{ErrModelUnavailable, "ModelUnavailable"},
	{ErrConfiguration, "ConfigurationError"},
}

// Kind returns the taxonomy name of err, or "Internal" when err wraps no known kind.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
