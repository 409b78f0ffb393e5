// Package minio implements blobstore.BlobStore for MinIO and other
// S3-compatible object stores.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	store := blobminio.NewStore(client, "knn", "engine-files/")
package minio
