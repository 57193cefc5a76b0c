package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions decoded by the native loader.
var nativeExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// Camera formats that only the ImageMagick loader can read.
var rawExts = map[string]struct{}{
	".dng":  {},
	".nef":  {},
	".cr2":  {},
	".cr3":  {},
	".arw":  {},
	".rw2":  {},
	".orf":  {},
	".pef":  {},
	".raf":  {},
	".srw":  {},
	".fits": {},
	".fit":  {},
}

// ListImages returns all frame files under root, sorted by path.
func ListImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsImageFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// IsRAWFile checks if a file is a camera or scientific format.
func IsRAWFile(path string) bool {
	_, isRaw := rawExts[ext(path)]
	return isRaw
}

// IsNativeFile checks if a file decodes without ImageMagick.
func IsNativeFile(path string) bool {
	_, ok := nativeExts[ext(path)]
	return ok
}

// IsImageFile checks if a file is any supported frame format.
func IsImageFile(path string) bool {
	return IsNativeFile(path) || IsRAWFile(path)
}

// SeparateRAWAndProcessed separates RAW files from natively decodable images.
func SeparateRAWAndProcessed(files []string) (rawFiles, processedFiles []string) {
	for _, file := range files {
		if IsRAWFile(file) {
			rawFiles = append(rawFiles, file)
		} else if IsNativeFile(file) {
			processedFiles = append(processedFiles, file)
		}
	}
	return rawFiles, processedFiles
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
