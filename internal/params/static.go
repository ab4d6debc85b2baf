package params

import "context"

// Static serves parameters from an in-memory map, typically the
// parameters.values section of the config file.
type Static map[string]string

// Get implements Source. Empty values count as missing so a blank
// ${ENV} expansion falls through to the next source.
func (s Static) Get(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok && v != "" {
		return v, nil
	}
	return "", notFound(name)
}
