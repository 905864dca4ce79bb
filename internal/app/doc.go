// Package app contains the application logic behind the modeljit binary:
// loading manifest files, compiling them through the engine, evaluating
// entry points and watching sources for changes. It is decoupled from the
// command-line front end so that it can be driven directly in tests.
package app
