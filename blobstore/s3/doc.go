// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Engine files are opened with a HeadObject call and read with ranged
// GetObject requests, so a cold native-index load only transfers the bytes it
// reads. Put uses the transfer manager for multipart uploads.
package s3
