// Package relay moves invoice attachments from the chat platform into
// durable storage. The relay is deliberately lossy: any failure is
// journaled and the commit proceeds without a file URL, because the expense
// row matters more than its attachment.
package relay

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/fleetworks/invoicebot/internal/intake"
	"github.com/fleetworks/invoicebot/internal/telegram"
)

// Source resolves and downloads attachment content from the chat platform.
type Source interface {
	FilePath(ctx context.Context, fileID string) (string, error)
	Download(ctx context.Context, filePath string) (telegram.File, error)
}

// Destination stores file bytes and returns a public URL.
type Destination interface {
	Upload(ctx context.Context, objectPath, contentType string, data []byte) (string, error)
}

type Options struct {
	Source      Source
	Destination Destination
	Journal     intake.ErrorSink
}

// Relay implements intake.FileRelay over a Source and a Destination.
type Relay struct {
	source      Source
	destination Destination
	journal     intake.ErrorSink
}

func New(opts Options) *Relay {
	return &Relay{
		source:      opts.Source,
		destination: opts.Destination,
		journal:     opts.Journal,
	}
}

// Relay downloads the attachment and uploads it under a deterministic path.
// It returns the public URL, or "" when any stage failed.
func (r *Relay) Relay(ctx context.Context, req intake.RelayRequest) string {
	if r == nil || r.source == nil || r.destination == nil {
		return ""
	}

	filePath, err := r.source.FilePath(ctx, req.Ref.FileID)
	if err != nil {
		r.capture(ctx, "relay/resolve", req, err)
		return ""
	}
	file, err := r.source.Download(ctx, filePath)
	if err != nil {
		r.capture(ctx, "relay/download", req, err)
		return ""
	}

	// the sender's filename wins over the platform's opaque path name
	origName := file.Name
	if req.Ref.Name != "" {
		origName = req.Ref.Name
	}
	url, err := r.destination.Upload(ctx, objectPath(req, origName), file.ContentType, file.Bytes)
	if err != nil {
		r.capture(ctx, "relay/upload", req, err)
		return ""
	}
	return url
}

// objectPath builds {asset}/{unit}/{timestamp}_{asset}_{unit}_{origName} so
// listings group by equipment and names stay unique per second.
func objectPath(req intake.RelayRequest, origName string) string {
	asset := strings.TrimSpace(req.AssetType)
	if asset == "" {
		asset = "unknown"
	}
	unit := intake.SanitizeName(req.UnitNumber)
	if unit == "" {
		unit = "unknown"
	}
	name := intake.SanitizeName(origName)
	if name == "" {
		name = "file"
	}
	stamp := req.Timestamp.UTC().Format("20060102150405")
	return asset + "/" + unit + "/" + stamp + "_" + asset + "_" + unit + "_" + name
}

func (r *Relay) capture(ctx context.Context, tag string, req intake.RelayRequest, err error) {
	if r.journal != nil {
		r.journal.Capture(ctx, tag, fmt.Sprintf("file_id=%s: %v", req.Ref.FileID, err))
	}
}

// BucketDestination adapts the object storage client to the Destination
// surface.
type BucketDestination struct {
	Client interface {
		UploadObject(ctx context.Context, path, contentType string, data []byte) (string, error)
	}
}

func (b BucketDestination) Upload(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	if b.Client == nil {
		return "", fmt.Errorf("bucket client is not configured")
	}
	return b.Client.UploadObject(ctx, objectPath, contentType, data)
}

// DriveDestination adapts a flat-namespace destination that only accepts a
// file name, keeping the final path segment.
type DriveDestination struct {
	Folder interface {
		Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
	}
}

func (d DriveDestination) Upload(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	if d.Folder == nil {
		return "", fmt.Errorf("drive folder is not configured")
	}
	return d.Folder.Upload(ctx, path.Base(objectPath), contentType, data)
}
