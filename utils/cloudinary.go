package utils

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// PhotoUploader stores a copy of an identity photo for the admin review screen.
type PhotoUploader interface {
	UploadPhoto(ctx context.Context, data []byte, publicID string) (string, error)
}

// CloudinaryConfig holds Cloudinary configuration
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	Folder       string
}

// Cloudinary uploads photos as private assets.
type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	preset string
	folder string
}

// NewCloudinary returns nil, nil when Cloudinary is not configured.
func NewCloudinary(cfg CloudinaryConfig) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, nil
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "photo-ids"
	}
	return &Cloudinary{cld: cld, preset: cfg.UploadPreset, folder: folder}, nil
}

// UploadPhoto uploads the image and returns the secure URL.
func (c *Cloudinary) UploadPhoto(ctx context.Context, data []byte, publicID string) (string, error) {
	params := uploader.UploadParams{
		PublicID:       publicID,
		Folder:         c.folder,
		UploadPreset:   c.preset,
		Type:           api.Authenticated,
		Overwrite:      api.Bool(true),
		Transformation: "c_limit,w_1200,h_1200",
	}

	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return "", fmt.Errorf("cloudinary: upload: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary: upload: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}
