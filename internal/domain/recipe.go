package domain

// ParserConfig holds format-specific parse parameters for a recipe.
type ParserConfig struct {
	// Format selects the parser: "csv" (default) or "xlsx".
	Format string `json:"format"`
	// Delimiter is the CSV field separator, default ",".
	Delimiter string `json:"delimiter,omitempty"`
	// SkipRows drops leading rows (report titles, disclaimers) before parsing.
	SkipRows int `json:"skip_rows,omitempty"`
	// Encoding of the raw bytes: "utf-8" (default), "big5" or "ms950".
	Encoding string `json:"encoding,omitempty"`
	// HeaderRow pins the header to an explicit zero-based row index (counted
	// after SkipRows). When nil the first non-empty row is used.
	HeaderRow *int `json:"header_row,omitempty"`
}

// Recipe describes how files of one format fingerprint are parsed, validated,
// cleaned and loaded. Recipes are static configuration: loaded once at startup
// and treated as read-only during a pipeline run.
type Recipe struct {
	TargetTable     string       `json:"target_table"`
	ParserConfig    ParserConfig `json:"parser_config"`
	CleanerFunction string       `json:"cleaner_function"`
	RequiredColumns []string     `json:"required_columns"`
	// UniqueKey declares the curated-store primary key; upserts resolve
	// conflicts on it so reprocessing the same content is idempotent.
	UniqueKey   []string `json:"unique_key"`
	Description string   `json:"description,omitempty"`
}
