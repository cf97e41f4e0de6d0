package sync

import (
	"context"
	"io"
	"strings"
)

// fakeAPIClient is a hand-written APIClient test double. Each method
// delegates to an overridable func field, defaulting to a harmless zero
// value so a test only needs to set the fields it cares about.
type fakeAPIClient struct {
	StatusFunc         func(ctx context.Context) (StatusResult, error)
	ListSitesFunc      func(ctx context.Context) ([]SiteRecord, error)
	DownloadFunc       func(ctx context.Context, pathNoExt string) (DownloadResult, error)
	UploadFunc         func(ctx context.Context, req UploadRequest) (UploadResult, error)
	DeleteFunc         func(ctx context.Context, id NodeID) error
	RenameFunc         func(ctx context.Context, id NodeID, newName string) error
	MoveFunc           func(ctx context.Context, id NodeID, targetFolderPath string) error
	ListUploadsFunc    func(ctx context.Context) ([]UploadRecord, error)
	DownloadUploadFunc func(ctx context.Context, path string) (DownloadUploadResult, error)
	UploadUploadFunc   func(ctx context.Context, req UploadUploadRequest) error
	OpenStreamFunc     func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeAPIClient) Status(ctx context.Context) (StatusResult, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx)
	}

	return StatusResult{}, nil
}

func (f *fakeAPIClient) ListSites(ctx context.Context) ([]SiteRecord, error) {
	if f.ListSitesFunc != nil {
		return f.ListSitesFunc(ctx)
	}

	return nil, nil
}

func (f *fakeAPIClient) Download(ctx context.Context, pathNoExt string) (DownloadResult, error) {
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, pathNoExt)
	}

	return DownloadResult{}, nil
}

func (f *fakeAPIClient) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, req)
	}

	return UploadResult{}, nil
}

func (f *fakeAPIClient) Delete(ctx context.Context, id NodeID) error {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(ctx, id)
	}

	return nil
}

func (f *fakeAPIClient) Rename(ctx context.Context, id NodeID, newName string) error {
	if f.RenameFunc != nil {
		return f.RenameFunc(ctx, id, newName)
	}

	return nil
}

func (f *fakeAPIClient) Move(ctx context.Context, id NodeID, targetFolderPath string) error {
	if f.MoveFunc != nil {
		return f.MoveFunc(ctx, id, targetFolderPath)
	}

	return nil
}

func (f *fakeAPIClient) ListUploads(ctx context.Context) ([]UploadRecord, error) {
	if f.ListUploadsFunc != nil {
		return f.ListUploadsFunc(ctx)
	}

	return nil, nil
}

func (f *fakeAPIClient) DownloadUpload(ctx context.Context, path string) (DownloadUploadResult, error) {
	if f.DownloadUploadFunc != nil {
		return f.DownloadUploadFunc(ctx, path)
	}

	return DownloadUploadResult{}, nil
}

func (f *fakeAPIClient) UploadUpload(ctx context.Context, req UploadUploadRequest) error {
	if f.UploadUploadFunc != nil {
		return f.UploadUploadFunc(ctx, req)
	}

	return nil
}

func (f *fakeAPIClient) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	if f.OpenStreamFunc != nil {
		return f.OpenStreamFunc(ctx)
	}

	return io.NopCloser(strings.NewReader("")), nil
}

var _ APIClient = (*fakeAPIClient)(nil)
