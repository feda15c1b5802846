// Package scanner discovers indexable text files in a directory tree.
//
// Two modes are provided. ScanMetadata walks the tree and reports size and
// mtime for every eligible file without opening any of them; it is what
// change detection runs on every build. ReadFile reads one file in full,
// rejecting binary (a NUL byte within the first 8 KiB) and non-UTF-8 files.
//
// Eligibility, in order:
//
//   - hidden entries are skipped, as are paths matched by .gitignore, .ignore,
//     .git/info/exclude and the user's global git excludes file
//   - symlinks are never followed or indexed
//   - files larger than MaxFileSize bytes are skipped
//   - known binary extensions, *-lock.json and dotfiles are skipped
//
// Paths are reported relative to the root with forward slashes.
//
// Only failures on the root are fatal (RootScanError); every other problem
// skips the file. ReadFile reports the reason as a *ScanError.
package scanner
