// Package harvest defines the core types and interfaces shared across the
// extraction pipeline: the task/claim/result/content data model, the store
// contracts the Postgres layer implements, the fetch boundary against the
// PNCP API, and the error taxonomy.
package harvest
