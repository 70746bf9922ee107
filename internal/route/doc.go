// Package route implements the routing table: an ordered, validated set
// of proxy, redirect, and static rules matched by longest path prefix.
// Redirect rules are checked for cycles when the table is built, so a
// running process can never issue a redirect chain that loops.
package route
