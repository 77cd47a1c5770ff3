// Package http exposes the storage engine over a chi router. Routes cover
// direct object access under /o, multipart uploads under /mpu, pre-signed URL
// generation at /presign and redemption under /ps.
package http
