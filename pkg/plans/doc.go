// Package plans provides the billing plan catalog consumed by the cycle
// engine. Plans can live in the billing database (PostgresCatalog) or in a
// YAML file reloaded on change (FileCatalog), and either source can be
// wrapped with a two-level cache (CachedCatalog) to keep the hot lookup path
// off the datastore during large billing runs.
package plans
