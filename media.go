package market

import (
	"context"
	"strings"
)

const (
	MediaFolderProductMain       = "marketplace/products/main"
	MediaFolderProductAdditional = "marketplace/products/additional"
	MediaFolderAvatars           = "marketplace/avatars"
)

// Upload is a file received from a form
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// IsImage reports whether the upload declares an image content type
func (u Upload) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(u.ContentType), "image/")
}

// MediaAsset is an image stored by the media host
type MediaAsset struct {
	URL    string `json:"url"`
	Handle string `json:"handle"`
}

// MediaHost stores uploaded images and returns a durable URL and a deletion handle
type MediaHost interface {
	Upload(ctx context.Context, folder string, file Upload) (MediaAsset, error)
	Delete(ctx context.Context, handle string) error
}

// uploadAll uploads files to folder, removing the already stored ones when
// any upload fails.
func uploadAll(ctx context.Context, host MediaHost, logger Logger, folder string, files []Upload) ([]MediaAsset, error) {
	assets := make([]MediaAsset, 0, len(files))
	for _, file := range files {
		if !file.IsImage() {
			discardAssets(ctx, host, logger, assets...)
			return nil, NewValidationError("Only image uploads are allowed.", map[string]any{
				"field":    file.Field,
				"filename": file.Filename,
			})
		}
		asset, err := host.Upload(ctx, folder, file)
		if err != nil {
			discardAssets(ctx, host, logger, assets...)
			return nil, WrapUpstream(err, "failed to upload image")
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// discardAssets deletes assets best effort, logging failures
func discardAssets(ctx context.Context, host MediaHost, logger Logger, assets ...MediaAsset) {
	for _, asset := range assets {
		discardHandle(ctx, host, logger, asset.Handle)
	}
}

func discardHandle(ctx context.Context, host MediaHost, logger Logger, handle string) {
	if handle == "" || host == nil {
		return
	}
	if err := host.Delete(ctx, handle); err != nil {
		logger.Warn("failed to delete media %s: %v", handle, err)
	}
}

func assetURLs(assets []MediaAsset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.URL)
	}
	return out
}
