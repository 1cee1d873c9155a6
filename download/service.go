// Package download fetches a file from one or more range-capable sources,
// splitting it into byte ranges that are requested concurrently.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSourceUrls                  = errors.New("source URLs required")
	ErrSourcesFileMismatch           = errors.New("file metadata from source URLs are not matching")
	ErrUnknownContentLength          = errors.New("unknown content length")
	ErrPartialRequestUnsupported     = errors.New("partial request not supported")
	ErrUnexpectedContentRange        = errors.New("unexpected content range")
	ErrFailedChunkDownloadAllSources = errors.New("failed to download chunk after attempting from all sources")
)

const suffixOngoingDownload = ".download"

// Service is the service layer that contains operations for downloading.
type Service struct {
	opts       Options
	httpClient *http.Client
}

func NewService(opts Options) *Service {
	if opts.Connections == 0 {
		opts.Connections = 1
	}

	return &Service{
		opts: opts,
		httpClient: &http.Client{
			Timeout: time.Second * time.Duration(opts.Timeout),
		},
	}
}

// Download attempts to download a file from the given sources in a concurrent manner (i.e., in chunks).
// This creates a temporary file while the download is ongoing and renames it to the actual configured
// destination file once the download is successfully completed.
func (s *Service) Download(ctx context.Context, sourceUrls []string) error {
	if len(sourceUrls) == 0 {
		return ErrNoSourceUrls
	}

	srcFileMetas, err := s.fetchFileMetadataFromSources(ctx, sourceUrls)
	if err != nil {
		return err
	}

	if !allSourcesMatchFileMetadata(srcFileMetas) {
		return ErrSourcesFileMismatch
	}

	fileMetadata := srcFileMetas[0].fileMetadata // any will do since they are assumed to be matching

	ongoingDownloadFile, err := os.Create(s.opts.DestFilePath + suffixOngoingDownload)
	if err != nil {
		return err
	}
	defer ongoingDownloadFile.Close()

	if err := s.downloadFileContents(
		ctx,
		sourceUrlsSortedByEstLatency(srcFileMetas), // sort to prioritize sources with lowest estimated latency
		fileMetadata,
		ongoingDownloadFile,
	); err != nil {
		return err
	}

	if err := ongoingDownloadFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(ongoingDownloadFile.Name(), s.opts.DestFilePath); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Download",
		"dest":          s.opts.DestFilePath,
		"size":          fileMetadata.size,
		"content_type":  fileMetadata.contentType,
		"last_modified": fileMetadata.lastModified,
	}).Info("Download complete")

	return nil
}

func (s *Service) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	return req, nil
}

// fetchFileMetadataFromSources returns file metadata corresponding to each of the given sources.
func (s *Service) fetchFileMetadataFromSources(ctx context.Context, sourceUrls []string) ([]sourceFileMetadata, error) {
	srcFileMetasChan := make(chan sourceFileMetadata)

	eg, ctx := errgroup.WithContext(ctx)

	for _, url := range sourceUrls {
		eg.Go(func() error {
			req, err := s.newRequest(ctx, http.MethodHead, url)
			if err != nil {
				return err
			}

			start := time.Now()

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			estLatency := time.Since(start)

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("received %d response from %s", resp.StatusCode, url)
			}

			if resp.ContentLength == -1 {
				return ErrUnknownContentLength
			}

			if resp.Header.Get("Accept-Ranges") != "bytes" {
				return ErrPartialRequestUnsupported
			}

			srcFileMetasChan <- sourceFileMetadata{
				url:        url,
				estLatency: estLatency,
				fileMetadata: fileMetadata{
					size:         resp.ContentLength,
					contentType:  resp.Header.Get("Content-Type"),
					lastModified: resp.Header.Get("Last-Modified"),
				},
			}

			return nil
		})
	}

	go func() {
		eg.Wait()
		close(srcFileMetasChan)
	}()

	var srcFileMetas []sourceFileMetadata
	for sfm := range srcFileMetasChan {
		srcFileMetas = append(srcFileMetas, sfm)
	}

	return srcFileMetas, eg.Wait()
}

// downloadFileContents downloads the file contents from the given source URLs in chunks and
// writes them in proper order in the provided destination file. The source URLs are prioritized
// based on their ordering in the given slice.
func (s *Service) downloadFileContents(ctx context.Context, sourceUrls []string, fileMetadata fileMetadata, destFile *os.File) error {
	connections := int64(s.opts.Connections)
	chunkSize := (fileMetadata.size + connections - 1) / connections
	if chunkSize == 0 {
		chunkSize = 1
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(int(s.opts.Connections))

	for offset, i := int64(0), 0; offset < fileMetadata.size; offset, i = offset+chunkSize, i+1 {
		srcIdxInitAttempt := i % len(sourceUrls)
		limit := min(offset+chunkSize, fileMetadata.size)

		eg.Go(func() error {
			var chunk []byte
			url := sourceUrls[srcIdxInitAttempt]

			chunk, err := s.fetchChunk(ctx, url, offset, limit-1, fileMetadata.size)
			if err != nil {
				// try to download chunk from other sources (priority based on sourceUrls ordering)
				for j := 0; j < len(sourceUrls) && err != nil; j++ {
					if j == srcIdxInitAttempt {
						continue
					}
					url = sourceUrls[j]
					chunk, err = s.fetchChunk(ctx, url, offset, limit-1, fileMetadata.size)
				}
				if err != nil {
					return ErrFailedChunkDownloadAllSources
				}
			}

			logrus.WithFields(logrus.Fields{
				"function": "downloadFileContents",
				"source":   url,
				"offset":   offset,
				"length":   len(chunk),
			}).Debug("Chunk downloaded")

			_, err = io.Copy(io.NewOffsetWriter(destFile, offset), bytes.NewReader(chunk))
			return err
		})
	}

	return eg.Wait()
}

// fetchChunk attempts to GET the inclusive byte range [start, end] of the file from the given URL.
func (s *Service) fetchChunk(ctx context.Context, url string, start, end, size int64) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("received %d response from %s", resp.StatusCode, url)
	}

	want := fmt.Sprintf("bytes %d-%d/%d", start, end, size)
	if got := resp.Header.Get("Content-Range"); got != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedContentRange, got, want)
	}

	return io.ReadAll(resp.Body)
}
