package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/pkg/logger"
)

// Google Workspace MIME types that must be exported instead of downloaded.
const (
	mimeGoogleDoc    = "application/vnd.google-apps.document"
	mimeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	mimeGoogleSlides = "application/vnd.google-apps.presentation"
	mimeFolder       = "application/vnd.google-apps.folder"
)

const listPageSize = 1000

// maxDownloadSize bounds a single file download (50MB).
const maxDownloadSize = 50 << 20

// Client lists and downloads the files of one Drive folder using a service
// account.
type Client struct {
	svc         *drive.Service
	folderID    string
	downloadDir string
}

func NewClient(ctx context.Context, credentialsPath, folderID, downloadDir string) (*Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	if downloadDir == "" {
		downloadDir, err = os.MkdirTemp("", "drive-rag-")
		if err != nil {
			return nil, fmt.Errorf("failed to create download directory: %w", err)
		}
	} else if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	logger.Info("Drive client initialized", zap.String("folder_id", folderID))

	return &Client{svc: svc, folderID: folderID, downloadDir: downloadDir}, nil
}

// List returns every non-trashed file in the folder. Folders themselves are
// skipped.
func (c *Client) List(ctx context.Context) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	pageToken := ""

	for {
		call := c.svc.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", c.folderID)).
			Fields("nextPageToken, files(id, name, mimeType, modifiedTime, md5Checksum)").
			PageSize(listPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list folder %s: %w", c.folderID, err)
		}

		for _, f := range resp.Files {
			if f.MimeType == mimeFolder {
				continue
			}
			files = append(files, models.RemoteFile{
				ID:           f.Id,
				Name:         f.Name,
				MimeType:     f.MimeType,
				ModifiedTime: f.ModifiedTime,
				Checksum:     f.Md5Checksum,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	logger.Debug("Drive folder listed", zap.Int("files", len(files)))
	return files, nil
}

// Download fetches a file's content into the download directory and returns
// the local path. Google-native documents are exported to a text format; the
// returned path carries an extension matching the actual content.
func (c *Client) Download(ctx context.Context, file models.RemoteFile) (string, error) {
	var (
		body io.ReadCloser
		ext  string
	)

	switch file.MimeType {
	case mimeGoogleDoc, mimeGoogleSlides:
		resp, err := c.svc.Files.Export(file.ID, "text/plain").Context(ctx).Download()
		if err != nil {
			return "", fmt.Errorf("failed to export %s: %w", file.Name, err)
		}
		body = resp.Body
		ext = ".txt"
	case mimeGoogleSheet:
		resp, err := c.svc.Files.Export(file.ID, "text/csv").Context(ctx).Download()
		if err != nil {
			return "", fmt.Errorf("failed to export %s: %w", file.Name, err)
		}
		body = resp.Body
		ext = ".csv"
	default:
		resp, err := c.svc.Files.Get(file.ID).Context(ctx).Download()
		if err != nil {
			return "", fmt.Errorf("failed to download %s: %w", file.Name, err)
		}
		body = resp.Body
	}
	defer body.Close()

	name := filepath.Base(file.Name)
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	localPath := filepath.Join(c.downloadDir, file.ID+"_"+name)

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}
	defer out.Close()

	if _, err := copyCapped(out, body, maxDownloadSize); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("failed to write local file: %w", err)
	}

	return localPath, nil
}

// copyCapped copies src to dst and fails once src exceeds limit. A truncated
// download must never reach the splitter: it would be indexed and marked
// processed under the full file's checksum, so later passes would not repair
// it.
func copyCapped(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, fmt.Errorf("file exceeds download limit of %d bytes", limit)
	}
	return n, nil
}
