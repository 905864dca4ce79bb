// Package manifestfile loads compilation requests from HCL files.
//
// A manifest file carries the equation body, inline as a heredoc or in a
// separate file, and one block per entry point:
//
//	body = <<EOT
//	out[0] = 2.0*state[0] + param[0]
//	EOT
//
//	entry_point "f" {
//	  signature = "state_deriv"
//	}
//
// The loader also remembers where the body starts so that diagnostics in
// body coordinates can be reported against the file the author edits.
package manifestfile
