// Package book implements the in-memory book builder. It keeps every
// live order of every symbol in per-side red-black trees ordered by
// (price, size, id) and indexes each order id to its tree node, so
// updates and deletes never search by price.
//
// The builder is single-writer and synchronous: every call runs to
// completion before the next one and the package holds no locks.
// Callers that need concurrent readers wrap it (see service.BookService).
package book
