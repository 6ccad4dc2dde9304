/*
Package store is the persistence layer for submissions: a single relational
table plus the one operation that matters for correctness, TryAssign, which
atomically hands the oldest eligible submission to a runner while guaranteeing
at most one in-flight submission per repository.

It uses database/sql with the pure-Go modernc.org/sqlite driver rather than
the teacher's bbolt key-value store, because TryAssign's "exclude repos with
any other in-flight submission" rule is naturally a correlated subquery
inside a single locked transaction — exactly what SQL expresses and a
bucket-scanning KV store does not.
*/
package store
