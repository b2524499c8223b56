// Package cache implements the named cache stores used by the worker. A
// Storage holds any number of stores distinguished by name; each store maps a
// request Key (absolute GET URL) to a Response snapshot. Backends share one
// encoding layer and differ only in where the bytes live: a directory tree
// (fs), an embedded badger database (badger, memory) or Redis (redis).
// Batch writes are all-or-nothing so that an install never leaves a partially
// populated store behind.
package cache
