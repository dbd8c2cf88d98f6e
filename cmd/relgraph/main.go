// Command relgraph operates a relgraph deployment: applying the Postgres
// schema, running health checks, reporting per-namespace statistics, and
// running the partition/expiration maintenance scheduler.
//
// Usage:
//
//	relgraph [flags] <command>
//
// Commands that touch the database (migrate, doctor, stats, schedule) need
// --db or RELGRAPH_DATABASE_URL, or a relgraph.yaml with database settings.
package main

func main() {
	Execute()
}
