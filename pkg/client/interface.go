package client

import (
	"context"

	"github.com/menta2k/crop-surface/pkg/types"
)

// VisionClient is a vision-model backend that can look at one encoded crop.
// imgB64 is the standard base64 encoding of the artifact bytes.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DescribeImage(ctx context.Context, model, prompt, imgB64 string) (*types.Label, error)
}
