// Package artifact stores rendered outputs behind a backend-agnostic
// Storage interface.
//
// Render workers stream engine output straight into storage; nothing is
// buffered to disk first. Keys are slash-separated paths relative to the
// storage root and every implementation confines operations to that root,
// so a hostile key can never escape it.
//
// Two implementations are provided:
//   - LocalStorage: filesystem-backed, for single-node deployments and tests
//   - S3Storage: AWS S3 and S3-compatible services (MinIO, Wasabi, R2)
//
// Content types resolve from an explicit WithContentType option, then the
// key's extension, then detection on the stream's first bytes.
//
// # Usage
//
//	storage, err := artifact.NewLocalStorage("/var/lib/renderkit/artifacts", "/artifacts/")
//	if err != nil {
//		return err
//	}
//
//	out, err := engine.Render(ctx, spec, progress)
//	if err != nil {
//		return err
//	}
//	defer out.Close()
//
//	art, err := storage.Put(ctx, "renders/"+jobID.String()+".mp4", out)
//	if err != nil {
//		return err
//	}
//	// art.URL is ready to hand to notify webhooks
//
// S3 with a MinIO endpoint:
//
//	storage, err := artifact.NewS3Storage(ctx, artifact.S3Config{
//		Bucket:         "renders",
//		Region:         "us-east-1",
//		Endpoint:       "http://localhost:9000",
//		ForcePathStyle: true,
//	})
package artifact
