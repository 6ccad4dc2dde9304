/*
Package types defines the core data structures shared across the autograder:
submissions, the hierarchical test-configuration tree (tags, groups, tests),
and the per-tag/per-test result documents committed to the shadow repository.

These types carry no behaviour of their own; pkg/testconfig builds the tag
tree, pkg/grader drives a submission through it, and pkg/store persists
Submission rows.
*/
package types
