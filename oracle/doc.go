// Package oracle defines the external code-generation and assessment
// capabilities the retry workflow depends on, and an implementation of both
// on top of an OpenAI-compatible Chat Completions backend.
//
// Generator and Assessor are deliberately separate, narrow interfaces so
// tests can substitute deterministic fakes. Calls against the backend are
// gated by a Budget shared by every concurrent request in the process (or,
// with the SQLite store, across processes).
package oracle
