// Package cmd implements the cobra command tree for the mailctl CLI:
// sending mail, previewing and resolving email templates, version and shell
// completion.
package cmd
