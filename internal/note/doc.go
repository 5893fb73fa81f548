// Package note defines the note entity and the file-level primitives the sync
// engine builds on.
//
// A note is a UTF-8 text file below a note folder root. Its identity is the
// slash-separated path relative to that root, so a note keeps its identity
// across machines and operating systems as long as it is not renamed.
//
// # Fingerprints
//
// Every observed file content is reduced to a fingerprint (hex SHA-256 of the
// raw bytes). Zero-byte and unreadable files have the empty fingerprint, which
// the detector reports as a modification rather than a deletion.
//
// # Line endings
//
// The configured LineEnding policy is applied by WriteFile only. Reading never
// rewrites a file, so untouched notes keep whatever line endings they have.
//
// # Encryption
//
// Encrypted notes are stored as an envelope:
//
//	<!-- BEGIN ENCRYPTED TEXT --
//	base64(salt || nonce || ciphertext)
//	-- END ENCRYPTED TEXT -->
//
// The key is derived from a passphrase with Argon2id. The passphrase is held
// in memory by the caller for the session and is never written anywhere.
package note
