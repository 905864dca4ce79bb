// Package manifest defines the compilation request handed to the engine by
// the code generator: the equation body, the ordered list of entry points,
// and the canonical calling signatures those entry points may take.
//
// A Manifest is validated and copied on construction and never changes
// afterwards. Problems found here are contract errors: the caller asked for
// something the engine does not support, so no compilation is attempted.
package manifest
