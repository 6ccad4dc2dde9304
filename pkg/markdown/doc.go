/*
Package markdown renders grading output as user-facing markdown: escaping and
wrapping captured command output in preformatted blocks, truncating output
that exceeds a configured cap, and collapsing stray linefeeds in free text so
long diagnostic strings stay readable inside a single comment.
*/
package markdown
