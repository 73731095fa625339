package tools

import "log/slog"

// Registry assembles the builtin tool surface from the configured backends.
type Registry struct {
	search *SearchClient
	doc    *DocClient
	log    *slog.Logger
}

func NewRegistry(search *SearchClient, doc *DocClient, log *slog.Logger) *Registry {
	return &Registry{search: search, doc: doc, log: log}
}

// Builtin returns every classic tool definition. Tools whose backend is not
// configured stay listed and report the missing configuration at call time,
// the same way the backends themselves do.
func (r *Registry) Builtin() []Definition {
	defs := []Definition{r.search.Definition()}
	defs = append(defs, r.doc.Definitions()...)
	return defs
}

// HasSearch reports whether the search backend is usable.
func (r *Registry) HasSearch() bool {
	return r.search.Configured()
}
