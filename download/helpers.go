package download

import (
	"sort"
)

// allSourcesMatchFileMetadata returns false if there is a mismatch in the file metadata
// across the sources.
func allSourcesMatchFileMetadata(srcFileMetas []sourceFileMetadata) bool {
	for i := 1; i < len(srcFileMetas); i++ {
		sfmA := srcFileMetas[i-1]
		sfmB := srcFileMetas[i]

		if sfmA.size != sfmB.size || sfmA.contentType != sfmB.contentType {
			return false
		}
	}

	return true
}

// sourceUrlsSortedByEstLatency returns the source URLs sorted by the estimated latency
// of the sources in ascending order.
func sourceUrlsSortedByEstLatency(srcFileMetas []sourceFileMetadata) []string {
	// just to avoid parameter mutation
	srcFileMetasCopy := make([]sourceFileMetadata, len(srcFileMetas))
	copy(srcFileMetasCopy, srcFileMetas)

	sort.Slice(srcFileMetasCopy, func(i, j int) bool {
		return srcFileMetasCopy[i].estLatency < srcFileMetasCopy[j].estLatency
	})

	var sourceUrls []string
	for _, sfm := range srcFileMetasCopy {
		sourceUrls = append(sourceUrls, sfm.url)
	}

	return sourceUrls
}

// min returns the minimum of two numbers.
func min(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
