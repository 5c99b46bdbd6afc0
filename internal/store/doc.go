// Package store defines the generic persistence contract (insert, update, delete,
// get-one, get-many, count with equality matches) and the typed Repository the
// crawlers use on top of it. Backends live in other packages; this package must
// not import database drivers or concrete clients.
package store
