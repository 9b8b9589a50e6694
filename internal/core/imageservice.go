package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"

	"github.com/jo-hoe/goimagehost/internal/lock"
	"github.com/jo-hoe/goimagehost/internal/metrics"
	"github.com/jo-hoe/goimagehost/internal/storage"
)

// Image is a stored file together with its public URL.
type Image struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type ImageService struct {
	config  *ServiceConfig
	storage storage.Storage
	locker  lock.Locker
	metrics *metrics.Registry
}

func NewImageService(config *ServiceConfig, store storage.Storage, locker lock.Locker, reg *metrics.Registry) *ImageService {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &ImageService{
		config:  config,
		storage: store,
		locker:  locker,
		metrics: reg,
	}
}

// URLFor builds the public URL of a stored file.
func (service *ImageService) URLFor(filename string) string {
	return service.config.BaseURL + service.config.URLPrefix + "/" + url.PathEscape(filename)
}

// Upload stores data under a new unique name derived from originalName.
func (service *ImageService) Upload(ctx context.Context, originalName string, data io.Reader) (*Image, error) {
	filename, err := service.save(ctx, originalName, data)
	if err != nil {
		service.countError(ctx, "upload")
		return nil, err
	}

	service.metrics.Inc(ctx, metrics.ImagesUploaded, nil, 1)
	slog.Info("image uploaded", "filename", filename, "original_name", originalName)
	return &Image{Filename: filename, URL: service.URLFor(filename)}, nil
}

// Update stores data under a new unique name and removes oldFile if it exists.
// A missing oldFile is not an error; removed reports whether it was deleted.
// An invalid oldFile is rejected with storage.ErrInvalidFileName before anything is written.
func (service *ImageService) Update(ctx context.Context, oldFile, originalName string, data io.Reader) (*Image, bool, error) {
	if err := storage.ValidateFileName(oldFile); err != nil {
		service.countError(ctx, "update")
		return nil, false, err
	}

	filename, err := service.save(ctx, originalName, data)
	if err != nil {
		service.countError(ctx, "update")
		return nil, false, err
	}

	removed, err := service.deleteLocked(ctx, oldFile)
	if err != nil {
		service.countError(ctx, "update")
		// Keep the update all or nothing: drop the new file again.
		if _, rbErr := service.storage.Delete(context.WithoutCancel(ctx), filename); rbErr != nil {
			slog.Error("failed to roll back new file after failed update",
				"filename", filename, "error", rbErr)
		}
		return nil, false, fmt.Errorf("failed to replace %s: %w", oldFile, err)
	}

	service.metrics.Inc(ctx, metrics.ImagesUpdated, nil, 1)
	if removed {
		service.metrics.Inc(ctx, metrics.ImagesDeleted, nil, 1)
	}
	slog.Info("image updated", "filename", filename, "old_file", oldFile, "old_file_removed", removed)
	return &Image{Filename: filename, URL: service.URLFor(filename)}, removed, nil
}

func (service *ImageService) deleteLocked(ctx context.Context, filename string) (bool, error) {
	unlock, err := service.locker.Lock(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", filename, err)
	}
	defer unlock()

	return service.storage.Delete(ctx, filename)
}

// List returns every stored image, ordered according to the configured list order.
func (service *ImageService) List(ctx context.Context) ([]Image, error) {
	entries, err := service.storage.List(ctx)
	if err != nil {
		service.countError(ctx, "list")
		return nil, err
	}

	sortEntries(entries, service.config.ListOrder)

	images := make([]Image, 0, len(entries))
	for _, entry := range entries {
		images = append(images, Image{Filename: entry.Name, URL: service.URLFor(entry.Name)})
	}

	service.metrics.Inc(ctx, metrics.ImageListings, nil, 1)
	return images, nil
}

func (service *ImageService) Close() error {
	return service.locker.Close()
}

func (service *ImageService) save(ctx context.Context, originalName string, data io.Reader) (string, error) {
	if data == nil {
		return "", errors.New("no image data")
	}

	counter := &countingReader{r: data}
	filename, err := service.storage.Save(ctx, originalName, counter)
	if err != nil {
		slog.Error("failed to store image", "original_name", originalName, "error", err)
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	service.metrics.Inc(ctx, metrics.ImageBytesWritten, nil, counter.n)
	return filename, nil
}

func (service *ImageService) countError(ctx context.Context, op string) {
	service.metrics.Inc(ctx, metrics.ImageErrors, map[string]string{"op": op}, 1)
}

func sortEntries(entries []storage.Entry, order string) {
	switch order {
	case ListOrderName:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Name < entries[j].Name
		})
	case ListOrderModTime:
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].ModTime.Equal(entries[j].ModTime) {
				return entries[i].Name < entries[j].Name
			}
			return entries[i].ModTime.Before(entries[j].ModTime)
		})
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
