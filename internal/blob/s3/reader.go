package s3blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Reader inspects stored objects. The archiver uses it to confirm an upload
// is complete before deleting the archived rows.
type Reader struct {
	api    *s3.Client
	bucket string
}

// NewReader creates a Reader over the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.api, bucket: c.bucket}
}

// Size returns the stored length of the object at path. A missing object
// yields domain.ErrNotFound.
func (r *Reader) Size(ctx context.Context, path string) (int64, error) {
	out, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("s3blob: head %s: %w", path, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses, which is
// what HEAD returns on most S3-compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var resp *smithyhttp.ResponseError
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &resp):
		return resp.HTTPStatusCode() == 404
	}
	return false
}
