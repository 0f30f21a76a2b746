// Package archive optionally uploads a finished Run's status snapshot to S3
// for offline diagnosis. It is a strictly optional, non-blocking diagnostic:
// its failure never changes a Run's outcome.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-xray-sdk-go/xray"

	"github.com/guestpatch/patchcore/internal/lalog"
)

// Uploader uploads status snapshots to a single S3 bucket.
type Uploader struct {
	logger   *lalog.Logger
	bucket   string
	uploader *s3manager.Uploader
}

// NewUploader constructs an Uploader, or returns ok=false if the
// PATCHCORE_ARCHIVE_BUCKET / AWS_REGION environment toggles are not set —
// archival is opt-in, never a startup requirement of the core.
func NewUploader() (u *Uploader, ok bool, err error) {
	bucket := os.Getenv("PATCHCORE_ARCHIVE_BUCKET")
	region := os.Getenv("AWS_REGION")
	if bucket == "" || region == "" {
		return nil, false, nil
	}
	logger := &lalog.Logger{ComponentName: "archive.Uploader"}
	apiSession, sessErr := session.NewSession(&aws.Config{Region: aws.String(region)})
	if sessErr != nil {
		return nil, false, fmt.Errorf("archive: failed to create AWS session: %w", sessErr)
	}
	s3Client := s3.New(apiSession)
	xray.AWS(s3Client.Client)
	return &Uploader{
		logger:   logger,
		bucket:   bucket,
		uploader: s3manager.NewUploaderWithClient(s3Client),
	}, true, nil
}

// uploadTimeout bounds the best-effort upload so a slow/unreachable S3
// endpoint can never hold up process exit.
const uploadTimeout = 30 * time.Second

// UploadSnapshot uploads the given status document bytes under
// "<activityId>/<sequenceNumber>.status". The outcome is logged and any
// error is returned; callers must not treat that error as fatal to the Run.
func (u *Uploader) UploadSnapshot(ctx context.Context, activityID string, sequenceNumber int, body []byte) error {
	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	key := fmt.Sprintf("%s/%d.status", activityID, sequenceNumber)
	started := time.Now()
	_, err := u.uploader.UploadWithContext(uploadCtx, &s3manager.UploadInput{
		Body:   bytes.NewReader(body),
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	u.logger.Info("UploadSnapshot", key, err, "upload completed in %s", time.Since(started))
	return err
}
