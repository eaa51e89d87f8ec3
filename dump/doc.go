/*
Package dump provides I/O operations for collected states of the data
contracts and their documents.

State collection allows you to reproduce work with "live" platform, first of
all in tests. For state reproducibility, it is necessary to be able to persist
(dump) data contracts along with their documents, as well as read ready-made
dumps.

The package works with dumps stored in the file system using human-readable
encoding.
*/
package dump
