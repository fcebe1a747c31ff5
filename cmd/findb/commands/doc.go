// Package commands defines the findb CLI.
//
// Commands
//
//   - get, set, del         Read and write single keys
//   - incr, decr            Adjust integer counters
//   - keys, dbsize          Inspect the keyspace
//   - lastsave              Print the time of the last save
//   - flushdb, deletedb     Clear the keyspace or remove the database file
//   - shell                 Interactive console (or script runner on piped input)
//
// # Implementation
//
// The root command loads configuration (file, FINDB_* environment, then
// flags), initializes logging and opens the store before any subcommand runs.
// Every command works on that single store and exits; mutations are saved
// to disk before the command returns.
package commands
