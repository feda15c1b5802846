package scanner

import (
	"path"
	"strings"
)

// binaryExtensions are never indexed. Compared case-insensitively.
var binaryExtensions = map[string]struct{}{
	// Compiled/object files
	".pyc": {}, ".pyo": {}, ".o": {}, ".so": {}, ".dylib": {}, ".dll": {},
	".bin": {}, ".exe": {}, ".a": {}, ".lib": {},
	// Archives
	".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {}, ".7z": {},
	".rar": {}, ".jar": {}, ".war": {}, ".whl": {},
	// Documents
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	// Images
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".svg": {},
	".webp": {}, ".bmp": {}, ".tiff": {},
	// Audio/video
	".mp3": {}, ".mp4": {}, ".wav": {}, ".avi": {}, ".mov": {}, ".mkv": {},
	// Data and model files
	".db": {}, ".sqlite": {}, ".sqlite3": {}, ".pkl": {}, ".npy": {}, ".npz": {},
	".onnx": {}, ".pt": {}, ".pth": {}, ".safetensors": {},
	// Lock files
	".lock": {},
}

// skipName applies the name-based filters: dotfiles, package-manager lock
// files and the binary extension denylist
func skipName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "-lock.json") {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	_, deny := binaryExtensions[ext]
	return deny
}

// Eligible reports whether a path passes the name-based filters
func Eligible(rel string) bool {
	return !skipName(path.Base(rel))
}
