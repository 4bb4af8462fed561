// Package python implements [deps.Language] for pip.
//
// # Manifests
//
// Each environment reads its own requirements file and falls back to
// requirements.txt:
//
//	prod  requirements.txt
//	dev   requirements-dev.txt
//	test  requirements-test.txt
//
// "-r other.txt" includes are followed relative to the including file.
// Editable installs, URL requirements and other pip options are skipped.
//
// # Requirements
//
// [ParseRequirement] accepts PEP 508 strings, including extras and
// environment markers. Published requires_dist entries gated on an extra
// are only followed when that extra was requested.
package python
