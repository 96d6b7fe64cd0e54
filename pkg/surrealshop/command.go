package surrealshop

// Command is one operation of the surrealshop binary, carrying the options specific to
// it. Options shared by all commands live in [Config].
//
// Commands are created by [Parse] and executed by [Main] through the matching method on
// [App].
type Command interface {
	// Name returns the sub-command name used on the command line.
	Name() string
}

// RunCommand starts the HTTP server and the consistency monitor and serves until the
// context is cancelled.
//
// Example usage:
//
//	surrealshop run
//	surrealshop -phase dual_write_source_read -port 8090 run
type RunCommand struct{}

func (c *RunCommand) Name() string {
	return "run"
}

// MigrateCommand creates tables and unique indexes on both backends. It is safe to run
// repeatedly.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string {
	return "migrate"
}

// BackfillCommand copies every source record missing in the target. Records already in
// the target are left untouched, so it can run while dual writes are active.
//
// Example usage:
//
//	surrealshop backfill -batch 1000 -concurrency 4
type BackfillCommand struct {
	// BatchSize overrides migration.backfill_batch_size when positive.
	BatchSize int
	// Concurrency overrides migration.backfill_concurrency when positive.
	Concurrency int
}

func (c *BackfillCommand) Name() string {
	return "backfill"
}

// PhaseCommand validates the configured phase and prints it. With Server set it talks to
// a running instance instead: it prints that instance's phase or, with Target set, asks
// it to move there.
//
// Example usage:
//
//	surrealshop phase
//	surrealshop phase -server http://localhost:8080
//	surrealshop phase -server http://localhost:8080 -to dual_write_source_read
//	surrealshop phase -server http://localhost:8080 -to source_only -rollback
type PhaseCommand struct {
	Server   string
	Target   string
	Rollback bool
	Force    bool
}

func (c *PhaseCommand) Name() string {
	return "phase"
}
