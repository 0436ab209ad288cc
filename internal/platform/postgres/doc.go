// Package postgres provides the PostgreSQL implementation of the task
// store interface defined in the internal/store package. It persists each
// batch task aggregate as a single row, with the config, items and
// results serialized into JSONB columns and replaced wholesale on every
// save, and ships its schema migrations embedded in the binary.
package postgres
