package main

// Flag structs decouple cobra from the command logic for testing.

type StartFlags struct {
	SkipDependencyCheck bool
	NoFrontend          bool
}

type StatusFlags struct {
	JSON bool
	// Remote is a control API address; empty reads local state files.
	Remote string
}

type HistoryFlags struct {
	Limit int
	JSON  bool
}
