// Package documents stores rendered billing documents (invoice statements)
// in Cloudinary so customers can open them from emails and the portal.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

var ErrEmptyDocument = errors.New("document is empty")

// uploadAPI is the subset of *uploader.API used here.
type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

type Archive struct {
	up     uploadAPI
	folder string
}

func NewArchive(cld *cloudinary.Cloudinary, folder string) *Archive {
	return &Archive{up: &cld.Upload, folder: folder}
}

// Archive uploads html as a raw asset under publicID and returns its secure
// URL. Re-archiving the same id replaces the previous version.
func (a *Archive) Archive(ctx context.Context, publicID string, html []byte) (string, error) {
	if len(html) == 0 {
		return "", ErrEmptyDocument
	}
	publicID = strings.Trim(publicID, "/")
	if !strings.HasSuffix(publicID, ".html") {
		publicID += ".html"
	}

	resp, err := a.up.Upload(ctx, bytes.NewReader(html), uploader.UploadParams{
		Folder:         a.folder,
		PublicID:       publicID,
		ResourceType:   "raw",
		Overwrite:      api.Bool(true),
		UniqueFilename: api.Bool(false),
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}
