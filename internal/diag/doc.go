// Package diag turns raw front-end diagnostics into caller-facing ones.
//
// The JIT backend reports hcl.Diagnostics positioned in translation-unit
// coordinates. The Collector remaps them into equation-body coordinates and
// splits them by class: user diagnostics (errors and warnings the model
// author can fix), internal diagnostics (anything located in the engine's
// own prologue or epilogue, or explicitly marked internal by the backend),
// and resource failures.
package diag
